package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeAccess = "access"

// TokenManager issues and parses the bearer tokens that carry a session's
// authTokenId as their jti claim
type TokenManager struct {
	secret            []byte
	issuer            string
	accessTokenExpiry time.Duration
	now               func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, accessExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            []byte(secret),
		issuer:            issuer,
		accessTokenExpiry: accessExpiry,
		now:               time.Now,
	}
}

// AccessTokenExpiry returns the configured lifetime of issued tokens
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// IssuedToken is a signed token together with the identifier sessions are keyed on
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// GenerateAccessToken signs a token for the user with a fresh jti
func (tm *TokenManager) GenerateAccessToken(userID, email, role string) (*IssuedToken, error) {
	now := tm.now()
	jti := uuid.New().String()
	expiresAt := now.Add(tm.accessTokenExpiry)

	claims := &models.TokenClaims{
		Type:   tokenTypeAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    tm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &IssuedToken{Token: signed, TokenID: jti, ExpiresAt: expiresAt}, nil
}

// ValidateToken verifies signature, expiry and type and returns the claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != tokenTypeAccess {
		return nil, errors.New("invalid token: unexpected type")
	}
	if claims.ID == "" || claims.UserID == "" {
		return nil, errors.New("invalid token: missing identifiers")
	}

	return claims, nil
}
