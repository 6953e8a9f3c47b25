package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/authcore/internal/auth"
	"github.com/BradenHooton/authcore/internal/background"
	"github.com/BradenHooton/authcore/internal/config"
	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/handlers"
	"github.com/BradenHooton/authcore/internal/metrics"
	middlewareCustom "github.com/BradenHooton/authcore/internal/middleware"
	"github.com/BradenHooton/authcore/internal/repositories"
	"github.com/BradenHooton/authcore/internal/routes"
	"github.com/BradenHooton/authcore/internal/services"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	securityMetrics, err := metrics.NewSecurityMetrics(metrics.Options{Registerer: registry})
	if err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db.Pool)
	var sessionStore services.SessionStore
	switch cfg.Security.SessionStore {
	case config.SessionStoreMemory:
		memoryStore := repositories.NewMemorySessionStore()
		if err := metrics.RegisterSizeGauge(registry, "", "sessions", "memory_store_sessions",
			"Sessions held by the in-memory session store.", memoryStore.Len); err != nil {
			logger.Error("failed to register metrics", slog.Any("error", err))
			os.Exit(1)
		}
		sessionStore = memoryStore
	default:
		sessionStore = repositories.NewSessionRepository(db.Pool)
	}
	logger.Info("session store selected", slog.String("store", cfg.Security.SessionStore))

	// Lockout alerts
	var notifier services.LockoutNotifier = services.NewLogLockoutNotifier(logger)
	if cfg.Email.Enabled {
		sesNotifier, err := services.NewSESLockoutNotifier(ctx, userRepo, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.SupportURL, logger)
		if err != nil {
			logger.Error("failed to initialize email notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	clock := services.SystemClock{}

	ledger := services.NewAttemptLedger(services.AttemptLedgerConfig{
		MaxFailures:                 cfg.Security.MaxFailedAttempts,
		AdaptiveMaxFailures:         cfg.Security.AdaptiveMaxFailedAttempts,
		FailureWindow:               cfg.Security.FailureWindow,
		LockoutSchedule:             cfg.Security.LockoutSchedule,
		AdaptiveCredentialThreshold: cfg.Security.AdaptiveCredentialThreshold,
		AdaptiveWindow:              cfg.Security.AdaptiveWindow,
		AdaptiveDelay:               cfg.Security.AdaptiveDelay,
		IdleTTL:                     cfg.Security.AttemptIdleTTL,
		NotifyTimeout:               cfg.Security.NotifyTimeout,
	}, clock, notifier, securityMetrics, logger)

	sessionManager := services.NewSessionManager(sessionStore, services.SessionManagerConfig{
		MaxSessionsPerUser: cfg.Security.MaxSessionsPerUser,
		InactivityTimeout:  cfg.Security.InactivityTimeout,
	}, clock, securityMetrics, logger, auditLogger)

	timeouts := services.NewAbsoluteTimeoutRegistry(services.AbsoluteTimeoutConfig{
		StandardTimeout: cfg.Security.StandardAbsoluteTimeout,
		ElevatedTimeout: cfg.Security.ElevatedAbsoluteTimeout,
	}, clock, securityMetrics, logger)
	if err := metrics.RegisterSizeGauge(registry, "", "absolute_timeout", "tracked_users",
		"Users with a live absolute session lifetime.", timeouts.Len); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingBaseDelayMs,
		RandomDelayMs: cfg.Auth.TimingJitterMs,
	})

	authService := services.NewAuthService(
		services.NewPasswordVerifier(userRepo),
		tokenManager,
		ledger,
		sessionManager,
		timeouts,
		timingDelay,
		logger,
		auditLogger,
	)

	// Background jobs
	scheduler := background.NewScheduler(logger)
	jobs := []background.Job{
		background.SessionSweepJob(sessionManager, cfg.Security.SweepInterval),
		background.AbsoluteTimeoutSweepJob(timeouts, cfg.Security.SweepInterval),
		background.AttemptLedgerEvictionJob(ledger, cfg.Security.SweepInterval),
		background.UnconfirmedAccountCleanupJob(userRepo, cfg.Security.UnconfirmedAccountMaxAge, cfg.Security.AccountCleanupInterval, clock),
	}
	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			logger.Error("failed to schedule job", slog.String("job", job.Name), slog.Any("error", err))
			os.Exit(1)
		}
	}

	// HTTP
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}

	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:       handlers.NewAuthHandler(authService, ipConfig, cookieConfig, logger),
		AdminHandler:      handlers.NewAdminHandler(authService),
		HealthHandler:     handlers.NewHealthHandler(db),
		Authenticator:     authService,
		IPConfig:          ipConfig,
		LoginRequestLimit: cfg.Server.LoginRequestLimit,
		MetricsHandler:    metricsHandler,
		Logger:            logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
