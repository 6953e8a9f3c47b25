package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// AuthServiceInterface defines the auth flows the handler drives
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, sourceAddress, userAgent string) (*services.AuthResponse, error)
	Logout(ctx context.Context, claims *models.TokenClaims, sourceAddress string) error
	LogoutAll(ctx context.Context, userID, sourceAddress string) error
	Reauthenticate(ctx context.Context, claims *models.TokenClaims, password, sourceAddress, userAgent string) (*services.AuthResponse, error)
	SessionStatus(userID string) (time.Duration, bool)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		cookies:  cookies,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// ReauthenticateRequest represents the request body for reauthentication
type ReauthenticateRequest struct {
	Password string `json:"password" validate:"required,max=72"`
}

// SessionStatusResponse reports how long the current login stays trusted
type SessionStatusResponse struct {
	UserID            string    `json:"user_id"`
	Role              string    `json:"role"`
	AbsoluteExpiresIn int64     `json:"absolute_expires_in_ms"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	sourceAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	resp, err := h.service.Login(r.Context(), req.Email, req.Password, sourceAddress, r.UserAgent())
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	auth.SetSessionCookie(w, resp.AccessToken, resp.ExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Logout ends the session bound to the presented token
// @Summary User logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claims, auth.GetSourceAddress(r)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll ends every session of the caller
// @Summary Logout from all devices
// @Security BearerAuth
// @Success 204
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID, auth.GetSourceAddress(r)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Reauthenticate re-verifies the caller's password and replaces all of their
// sessions with a single fresh one
// @Summary Reauthenticate and rotate sessions
// @Security BearerAuth
// @Param request body ReauthenticateRequest true "Reauthenticate request"
// @Success 200 {object} services.AuthResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/reauthenticate [post]
func (h *AuthHandler) Reauthenticate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ReauthenticateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Reauthenticate(r.Context(), claims, req.Password, auth.GetSourceAddress(r), r.UserAgent())
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	auth.SetSessionCookie(w, resp.AccessToken, resp.ExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// SessionStatus reports the caller's remaining absolute session lifetime
// @Summary Current session status
// @Security BearerAuth
// @Success 200 {object} SessionStatusResponse
// @Router /auth/session [get]
func (h *AuthHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	remaining, ok := h.service.SessionStatus(claims.UserID)
	if !ok {
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Session has expired")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionStatusResponse{
		UserID:            claims.UserID,
		Role:              claims.Role,
		AbsoluteExpiresIn: remaining.Milliseconds(),
		AbsoluteExpiresAt: time.Now().Add(remaining).UTC(),
	})
}

// writeAuthError maps login and reauthentication failures to responses.
// Account-state failures share the generic 401 so accounts cannot be probed.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var lockout *models.LockoutError
	switch {
	case errors.As(err, &lockout):
		if lockout.Throttled {
			pkghttp.WriteRetryLater(w, "source_throttled", "Too many failed login attempts from this address. Please try again later.", lockout.RetryAfter)
			return
		}
		pkghttp.WriteRetryLater(w, "account_locked", "Too many failed login attempts. Please try again later.", lockout.RetryAfter)
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended),
		errors.Is(err, models.ErrEmailNotVerified),
		errors.Is(err, models.ErrForbidden):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		h.logger.Error("authentication request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// decodeAndValidate reads a JSON body into dst and validates it, writing a
// 400 on failure
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "bad_request", "Validation failed", err.Error())
		return false
	}
	return true
}
