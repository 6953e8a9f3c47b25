package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

// TokenIssuer mints and parses bearer tokens
type TokenIssuer interface {
	GenerateAccessToken(userID, email, role string) (*auth.IssuedToken, error)
	ValidateToken(tokenString string) (*models.TokenClaims, error)
}

// AuthService runs the login, request-authentication and logout flows on
// top of the attempt ledger, session manager and absolute timeout registry
type AuthService struct {
	verifier    CredentialVerifier
	tokens      TokenIssuer
	ledger      *AttemptLedger
	sessions    *SessionManager
	timeouts    *AbsoluteTimeoutRegistry
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService. timing may be nil.
func NewAuthService(
	verifier CredentialVerifier,
	tokens TokenIssuer,
	ledger *AttemptLedger,
	sessions *SessionManager,
	timeouts *AbsoluteTimeoutRegistry,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		verifier:    verifier,
		tokens:      tokens,
		ledger:      ledger,
		sessions:    sessions,
		timeouts:    timeouts,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// UserResponse is the account view returned to clients
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}

// AuthResponse is returned by Login and Reauthenticate
type AuthResponse struct {
	AccessToken       string        `json:"access_token"`
	TokenType         string        `json:"token_type"`
	ExpiresAt         time.Time     `json:"expires_at"`
	SessionID         string        `json:"session_id"`
	AbsoluteExpiresIn int64         `json:"absolute_expires_in_ms"`
	User              *UserResponse `json:"user"`
}

// Login checks the ledger, verifies the credential and on success opens a
// session and starts the absolute lifetime clock. Denials come back as
// models.ErrUnauthorized, an account-state sentinel, or *models.LockoutError.
func (s *AuthService) Login(ctx context.Context, email, password, sourceAddress, userAgent string) (*AuthResponse, error) {
	start := time.Now()
	credentialID := NormalizeCredentialID(email)

	user, err := s.verifyGuarded(ctx, credentialID, password, sourceAddress, userAgent, "login")
	if err != nil {
		s.timing.WaitFrom(start, false)
		return nil, err
	}

	resp, err := s.openSession(ctx, user, sourceAddress, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: sourceAddress,
		UserAgent: userAgent,
		Success:   true,
		Metadata:  map[string]string{"session_id": resp.SessionID},
	})

	s.timing.WaitFrom(start, true)
	return resp, nil
}

// Authenticate resolves a bearer token to its claims when the bound session
// is valid for sourceAddress and the user is inside the absolute lifetime
func (s *AuthService) Authenticate(ctx context.Context, token, sourceAddress string) (*models.TokenClaims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		s.logger.Debug("token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if !s.sessions.ValidateSession(ctx, claims.ID, sourceAddress) {
		return nil, models.ErrSessionInvalid
	}

	if !s.timeouts.IsValid(claims.UserID) {
		if err := s.sessions.TerminateByToken(ctx, claims.ID); err != nil {
			s.logger.Error("failed to terminate session past absolute lifetime",
				slog.String("user_id", claims.UserID),
				slog.Any("error", err))
		}
		return nil, models.ErrSessionExpired
	}

	return claims, nil
}

// Logout ends the session bound to the token and clears the user's absolute clock
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, sourceAddress string) error {
	if err := s.sessions.TerminateByToken(ctx, claims.ID); err != nil {
		s.logger.Error("failed to terminate session", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.timeouts.Invalidate(claims.UserID)

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	s.auditLogger.LogAccountAction("logout", claims.UserID, sourceAddress, nil)
	return nil
}

// LogoutAll ends every session of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID, sourceAddress string) error {
	if err := s.sessions.TerminateAllForUser(ctx, userID); err != nil {
		s.logger.Error("failed to terminate sessions", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.timeouts.Invalidate(userID)

	s.auditLogger.LogAccountAction("logout_all", userID, sourceAddress, nil)
	return nil
}

// TerminateUserSessions is the administrative variant of LogoutAll
func (s *AuthService) TerminateUserSessions(ctx context.Context, targetUserID, actorID, sourceAddress string) error {
	if err := s.sessions.TerminateAllForUser(ctx, targetUserID); err != nil {
		s.logger.Error("failed to terminate sessions", slog.String("user_id", targetUserID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.timeouts.Invalidate(targetUserID)

	s.auditLogger.LogAccountAction("admin_sessions_terminated", targetUserID, sourceAddress,
		map[string]string{"actor_id": actorID})
	return nil
}

// Reauthenticate re-verifies the caller's password, discards every existing
// session of the user and issues a fresh token bound to a new session
func (s *AuthService) Reauthenticate(ctx context.Context, claims *models.TokenClaims, password, sourceAddress, userAgent string) (*AuthResponse, error) {
	start := time.Now()

	user, err := s.verifyGuarded(ctx, NormalizeCredentialID(claims.Email), password, sourceAddress, userAgent, "reauthenticate")
	if err != nil {
		s.timing.WaitFrom(start, false)
		return nil, err
	}
	if user.ID != claims.UserID {
		s.logger.Warn("reauthentication credential belongs to another account",
			slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	resp, err := s.openSession(ctx, user, sourceAddress, true)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "reauthenticate_success",
		UserID:    user.ID,
		IPAddress: sourceAddress,
		UserAgent: userAgent,
		Success:   true,
	})
	return resp, nil
}

// SessionStatus returns how long the user's login remains trusted
func (s *AuthService) SessionStatus(userID string) (time.Duration, bool) {
	return s.timeouts.Remaining(userID)
}

// verifyGuarded runs the ledger pre-check, credential verification and
// failure accounting shared by login and reauthentication
func (s *AuthService) verifyGuarded(ctx context.Context, credentialID, password, sourceAddress, userAgent, flow string) (*models.User, error) {
	if credentialID == "" {
		return nil, models.ErrUnauthorized
	}

	if s.ledger.IsBlocked(credentialID, sourceAddress) {
		s.auditFailure(flow, credentialID, sourceAddress, userAgent, "locked_out")
		return nil, s.lockoutError(credentialID, sourceAddress)
	}

	s.ledger.DelayIfThrottled(sourceAddress)

	user, err := s.verifier.Verify(ctx, credentialID, password)
	switch {
	case err == nil:
		s.ledger.Reset(credentialID, sourceAddress)
		return user, nil

	case errors.Is(err, models.ErrUnauthorized):
		s.ledger.RecordFailure(credentialID, sourceAddress)
		s.auditFailure(flow, credentialID, sourceAddress, userAgent, "invalid_credentials")
		if s.ledger.IsBlocked(credentialID, sourceAddress) {
			return nil, s.lockoutError(credentialID, sourceAddress)
		}
		return nil, models.ErrUnauthorized

	case errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended),
		errors.Is(err, models.ErrEmailNotVerified),
		errors.Is(err, models.ErrForbidden):
		s.auditFailure(flow, credentialID, sourceAddress, userAgent, "account_state")
		return nil, err

	default:
		s.logger.Error("credential verification failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
}

func (s *AuthService) lockoutError(credentialID, sourceAddress string) error {
	return &models.LockoutError{
		RetryAfter: s.ledger.RetryAfter(credentialID, sourceAddress),
		Throttled:  s.ledger.IsSourceThrottled(sourceAddress),
	}
}

// openSession issues a token and binds a session to it. With rotate set
// every prior session of the user is discarded first.
func (s *AuthService) openSession(ctx context.Context, user *models.User, sourceAddress string, rotate bool) (*AuthResponse, error) {
	issued, err := s.tokens.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	var session *models.Session
	if rotate {
		session, err = s.sessions.RotateOnFixation(ctx, user.ID, sourceAddress, issued.TokenID)
	} else {
		session, err = s.sessions.CreateSession(ctx, user.ID, sourceAddress, issued.TokenID)
	}
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.timeouts.Register(user.ID, user.Role)
	remaining, _ := s.timeouts.Remaining(user.ID)

	return &AuthResponse{
		AccessToken:       issued.Token,
		TokenType:         "Bearer",
		ExpiresAt:         issued.ExpiresAt,
		SessionID:         session.ID,
		AbsoluteExpiresIn: remaining.Milliseconds(),
		User: &UserResponse{
			ID:            user.ID,
			Email:         user.Email,
			Name:          user.Name,
			Role:          user.Role,
			EmailVerified: user.EmailVerified,
		},
	}, nil
}

func (s *AuthService) auditFailure(flow, credentialID, sourceAddress, userAgent, reason string) {
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     flow + "_failed",
		Email:         credentialID,
		IPAddress:     sourceAddress,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: reason,
	})
}
