package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// MockAuthService implements AuthServiceInterface and AdminServiceInterface
type MockAuthService struct {
	LoginFunc                 func(ctx context.Context, email, password, sourceAddress, userAgent string) (*services.AuthResponse, error)
	LogoutFunc                func(ctx context.Context, claims *models.TokenClaims, sourceAddress string) error
	LogoutAllFunc             func(ctx context.Context, userID, sourceAddress string) error
	ReauthenticateFunc        func(ctx context.Context, claims *models.TokenClaims, password, sourceAddress, userAgent string) (*services.AuthResponse, error)
	SessionStatusFunc         func(userID string) (time.Duration, bool)
	TerminateUserSessionsFunc func(ctx context.Context, targetUserID, actorID, sourceAddress string) error
}

func (m *MockAuthService) Login(ctx context.Context, email, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
	return m.LoginFunc(ctx, email, password, sourceAddress, userAgent)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, sourceAddress string) error {
	return m.LogoutFunc(ctx, claims, sourceAddress)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID, sourceAddress string) error {
	return m.LogoutAllFunc(ctx, userID, sourceAddress)
}

func (m *MockAuthService) Reauthenticate(ctx context.Context, claims *models.TokenClaims, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
	return m.ReauthenticateFunc(ctx, claims, password, sourceAddress, userAgent)
}

func (m *MockAuthService) SessionStatus(userID string) (time.Duration, bool) {
	return m.SessionStatusFunc(userID)
}

func (m *MockAuthService) TerminateUserSessions(ctx context.Context, targetUserID, actorID, sourceAddress string) error {
	return m.TerminateUserSessionsFunc(ctx, targetUserID, actorID, sourceAddress)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestAuthHandler(svc *MockAuthService) *AuthHandler {
	return NewAuthHandler(svc, pkghttp.NewIPConfig(nil), auth.CookieConfig{Secure: true, SameSite: "strict"}, discardLogger())
}

// newJSONRequest creates an HTTP request with a JSON body
func newJSONRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.20:40000"
	return req
}

// withClaims adds claims and the resolved source address to the request,
// the way the session middleware does
func withClaims(req *http.Request, userID, email, role string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Email: email, Role: role, Type: "access"}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	ctx = context.WithValue(ctx, auth.SourceAddressContextKey, "198.51.100.20")
	return req.WithContext(ctx)
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func sampleAuthResponse() *services.AuthResponse {
	return &services.AuthResponse{
		AccessToken:       "signed.jwt.token",
		TokenType:         "Bearer",
		ExpiresAt:         time.Now().Add(time.Hour),
		SessionID:         "session-1",
		AbsoluteExpiresIn: (8 * time.Hour).Milliseconds(),
		User:              &services.UserResponse{ID: "user-1", Email: "u@example.com", Role: models.RoleUser},
	}
}
