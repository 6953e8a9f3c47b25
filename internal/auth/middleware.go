package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/authcore/internal/models"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

type contextKey string

const (
	// UserContextKey holds the *models.TokenClaims of an authenticated request
	UserContextKey contextKey = "user"
	// SourceAddressContextKey holds the resolved client address
	SourceAddressContextKey contextKey = "source_address"
)

// Authenticator validates a presented token against live session state
type Authenticator interface {
	Authenticate(ctx context.Context, token, sourceAddress string) (*models.TokenClaims, error)
}

// SessionMiddleware admits a request only when its token maps to a valid
// session from the same source address and the user is inside their
// absolute lifetime
func SessionMiddleware(authenticator Authenticator, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				pkghttp.WriteUnauthorized(w, "missing or malformed credentials")
				return
			}

			sourceAddress := pkghttp.ExtractClientIP(r, ipConfig)
			claims, err := authenticator.Authenticate(r.Context(), token, sourceAddress)
			if err != nil {
				switch {
				case errors.Is(err, models.ErrSessionExpired):
					pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "session has reached its maximum lifetime")
				case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrSessionInvalid):
					pkghttp.WriteUnauthorized(w, "invalid or expired session")
				default:
					logger.Error("session authentication failed", slog.Any("error", err))
					pkghttp.WriteInternalError(w, "unable to verify session")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, SourceAddressContextKey, sourceAddress)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows the request through only when the authenticated
// principal holds one of the given roles. Must run after SessionMiddleware.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext returns the claims stored by SessionMiddleware, or nil
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetSourceAddress returns the client address resolved by SessionMiddleware
func GetSourceAddress(r *http.Request) string {
	addr, _ := r.Context().Value(SourceAddressContextKey).(string)
	return addr
}
