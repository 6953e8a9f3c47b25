package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/handlers"
	"github.com/BradenHooton/authcore/internal/middleware"
	"github.com/BradenHooton/authcore/internal/models"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// Dependencies groups what the route table needs
type Dependencies struct {
	AuthHandler       *handlers.AuthHandler
	AdminHandler      *handlers.AdminHandler
	HealthHandler     *handlers.HealthHandler
	Authenticator     auth.Authenticator
	IPConfig          *pkghttp.IPConfig
	LoginRequestLimit int          // Per source address per minute; 0 disables
	MetricsHandler    http.Handler // nil disables /metrics
	Logger            *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.Get("/health", deps.HealthHandler.Health)
	if deps.MetricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Public routes
	router.Group(func(r chi.Router) {
		if deps.LoginRequestLimit > 0 {
			r.Use(middleware.RateLimitBySource(middleware.RateLimitConfig{
				RequestsPerMinute: deps.LoginRequestLimit,
				IPConfig:          deps.IPConfig,
			}))
		}
		r.Post("/auth/login", deps.AuthHandler.Login)
	})

	// Session-protected routes
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(deps.Authenticator, deps.IPConfig, logger))

		r.Get("/auth/session", deps.AuthHandler.SessionStatus)
		r.Post("/auth/logout", deps.AuthHandler.Logout)
		r.Post("/auth/logout-all", deps.AuthHandler.LogoutAll)

		reauth := r.With()
		if deps.LoginRequestLimit > 0 {
			reauth = r.With(middleware.RateLimitByUser(middleware.RateLimitConfig{
				RequestsPerMinute: deps.LoginRequestLimit,
				IPConfig:          deps.IPConfig,
			}))
		}
		reauth.Post("/auth/reauthenticate", deps.AuthHandler.Reauthenticate)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Delete("/admin/users/{id}/sessions", deps.AdminHandler.TerminateUserSessions)
		})
	})
}
