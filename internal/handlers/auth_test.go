package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

func TestAuthHandler_LoginSuccess(t *testing.T) {
	svc := &MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
			assert.Equal(t, "u@example.com", email)
			assert.Equal(t, "correct-horse", password)
			assert.Equal(t, "198.51.100.20", sourceAddress)
			assert.Equal(t, "test-agent", userAgent)
			return sampleAuthResponse(), nil
		},
	}
	h := newTestAuthHandler(svc)

	req := newJSONRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "u@example.com", Password: "correct-horse"})
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	h.Login(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[services.AuthResponse](t, w)
	assert.Equal(t, "signed.jwt.token", resp.AccessToken)
	assert.Equal(t, "session-1", resp.SessionID)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
}

func TestAuthHandler_LoginFailures(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantCode       string
		wantRetryAfter string
	}{
		{"wrong credentials", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
		{"disabled account looks the same", models.ErrAccountDisabled, http.StatusUnauthorized, "unauthorized", ""},
		{"unverified email looks the same", models.ErrEmailNotVerified, http.StatusUnauthorized, "unauthorized", ""},
		{
			name:           "locked out",
			err:            &models.LockoutError{RetryAfter: 29500 * time.Millisecond},
			wantStatus:     http.StatusTooManyRequests,
			wantCode:       "account_locked",
			wantRetryAfter: "30",
		},
		{
			name:           "source throttled",
			err:            fmt.Errorf("login: %w", &models.LockoutError{RetryAfter: 2 * time.Minute, Throttled: true}),
			wantStatus:     http.StatusTooManyRequests,
			wantCode:       "source_throttled",
			wantRetryAfter: "120",
		},
		{"internal failure", models.ErrInternalServer, http.StatusInternalServerError, "internal_error", ""},
		{"unexpected error", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				LoginFunc: func(ctx context.Context, email, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			w := httptest.NewRecorder()
			h.Login(w, newJSONRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "u@example.com", Password: "x"}))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantRetryAfter, w.Header().Get("Retry-After"))
			assert.Empty(t, w.Result().Cookies())
			body := decodeBody[pkghttp.ErrorResponse](t, w)
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}
}

func TestAuthHandler_LoginBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"email":`},
		{"missing password", `{"email":"u@example.com"}`},
		{"invalid email", `{"email":"not-an-email","password":"x"}`},
		{"unknown field", `{"email":"u@example.com","password":"x","remember":true}`},
		{"password too long", `{"email":"u@example.com","password":"` + strings.Repeat("a", 73) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				LoginFunc: func(ctx context.Context, email, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
					t.Fatal("service must not be called")
					return nil, nil
				},
			}
			h := newTestAuthHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Login(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	var gotClaims *models.TokenClaims
	var gotSource string
	svc := &MockAuthService{
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims, sourceAddress string) error {
			gotClaims = claims
			gotSource = sourceAddress
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := withClaims(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "user-1", "u@example.com", models.RoleUser)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "user-1", gotClaims.UserID)
	assert.Equal(t, "198.51.100.20", gotSource)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAuthHandler_LogoutWithoutClaims(t *testing.T) {
	h := newTestAuthHandler(&MockAuthService{})

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_LogoutAll(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"success", nil, http.StatusNoContent},
		{"store failure", models.ErrInternalServer, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				LogoutAllFunc: func(ctx context.Context, userID, sourceAddress string) error {
					assert.Equal(t, "user-1", userID)
					return tt.err
				},
			}
			h := newTestAuthHandler(svc)

			req := withClaims(httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil), "user-1", "u@example.com", models.RoleUser)
			w := httptest.NewRecorder()
			h.LogoutAll(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAuthHandler_Reauthenticate(t *testing.T) {
	svc := &MockAuthService{
		ReauthenticateFunc: func(ctx context.Context, claims *models.TokenClaims, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
			assert.Equal(t, "user-1", claims.UserID)
			assert.Equal(t, "correct-horse", password)
			return sampleAuthResponse(), nil
		},
	}
	h := newTestAuthHandler(svc)

	req := withClaims(newJSONRequest(t, http.MethodPost, "/auth/reauthenticate", ReauthenticateRequest{Password: "correct-horse"}),
		"user-1", "u@example.com", models.RoleUser)
	w := httptest.NewRecorder()
	h.Reauthenticate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Result().Cookies(), 1)
}

func TestAuthHandler_ReauthenticateLockedOut(t *testing.T) {
	svc := &MockAuthService{
		ReauthenticateFunc: func(ctx context.Context, claims *models.TokenClaims, password, sourceAddress, userAgent string) (*services.AuthResponse, error) {
			return nil, &models.LockoutError{RetryAfter: time.Minute}
		},
	}
	h := newTestAuthHandler(svc)

	req := withClaims(newJSONRequest(t, http.MethodPost, "/auth/reauthenticate", ReauthenticateRequest{Password: "nope"}),
		"user-1", "u@example.com", models.RoleUser)
	w := httptest.NewRecorder()
	h.Reauthenticate(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestAuthHandler_SessionStatus(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		svc := &MockAuthService{
			SessionStatusFunc: func(userID string) (time.Duration, bool) {
				return 90 * time.Minute, true
			},
		}
		h := newTestAuthHandler(svc)

		req := withClaims(httptest.NewRequest(http.MethodGet, "/auth/session", nil), "admin-1", "a@example.com", models.RoleAdmin)
		w := httptest.NewRecorder()
		h.SessionStatus(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody[SessionStatusResponse](t, w)
		assert.Equal(t, "admin-1", body.UserID)
		assert.Equal(t, models.RoleAdmin, body.Role)
		assert.Equal(t, (90 * time.Minute).Milliseconds(), body.AbsoluteExpiresIn)
	})

	t.Run("expired", func(t *testing.T) {
		svc := &MockAuthService{
			SessionStatusFunc: func(userID string) (time.Duration, bool) { return 0, false },
		}
		h := newTestAuthHandler(svc)

		req := withClaims(httptest.NewRequest(http.MethodGet, "/auth/session", nil), "user-1", "u@example.com", models.RoleUser)
		w := httptest.NewRecorder()
		h.SessionStatus(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "session_expired", decodeBody[pkghttp.ErrorResponse](t, w).Error)
	})
}
