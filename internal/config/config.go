package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends
const (
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port              string
	Env               string
	LogLevel          string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	TrustedProxies    []string
	LoginRequestLimit int // Per source address per minute, in front of the attempt ledger
	MetricsEnabled    bool
}

type AuthConfig struct {
	JWTSecret         string
	Issuer            string
	AccessTokenExpiry time.Duration
	BcryptCost        int
	TimingBaseDelayMs int
	TimingJitterMs    int
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    string
}

// SecurityConfig holds the brute-force, session and lifetime parameters
type SecurityConfig struct {
	MaxFailedAttempts           int
	AdaptiveMaxFailedAttempts   int
	FailureWindow               time.Duration
	LockoutSchedule             []time.Duration
	AdaptiveCredentialThreshold int
	AdaptiveWindow              time.Duration
	AdaptiveDelay               time.Duration
	AttemptIdleTTL              time.Duration
	NotifyTimeout               time.Duration

	SessionStore       string
	MaxSessionsPerUser int
	InactivityTimeout  time.Duration

	StandardAbsoluteTimeout time.Duration
	ElevatedAbsoluteTimeout time.Duration

	SweepInterval            time.Duration
	AccountCleanupInterval   time.Duration
	UnconfirmedAccountMaxAge time.Duration
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	SupportURL  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authcore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustedProxies:    getEnvAsList("TRUSTED_PROXIES"),
			LoginRequestLimit: getEnvAsInt("LOGIN_REQUEST_LIMIT", 30),
			MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "authcore"),
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 8*time.Hour),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			TimingBaseDelayMs: getEnvAsInt("AUTH_TIMING_BASE_MS", 250),
			TimingJitterMs:    getEnvAsInt("AUTH_TIMING_JITTER_MS", 100),
			CookieDomain:      getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:      getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:    getEnv("COOKIE_SAMESITE", "strict"),
		},
		Security: SecurityConfig{
			MaxFailedAttempts:           getEnvAsInt("LOCKOUT_MAX_FAILURES", 5),
			AdaptiveMaxFailedAttempts:   getEnvAsInt("LOCKOUT_ADAPTIVE_MAX_FAILURES", 2),
			FailureWindow:               getEnvAsDuration("LOCKOUT_FAILURE_WINDOW", 5*time.Minute),
			LockoutSchedule:             getEnvAsDurationList("LOCKOUT_SCHEDULE", []time.Duration{30 * time.Second, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute}),
			AdaptiveCredentialThreshold: getEnvAsInt("ADAPTIVE_CREDENTIAL_THRESHOLD", 20),
			AdaptiveWindow:              getEnvAsDuration("ADAPTIVE_WINDOW", 5*time.Minute),
			AdaptiveDelay:               getEnvAsDuration("ADAPTIVE_DELAY", 2*time.Second),
			AttemptIdleTTL:              getEnvAsDuration("ATTEMPT_IDLE_TTL", time.Hour),
			NotifyTimeout:               getEnvAsDuration("LOCKOUT_NOTIFY_TIMEOUT", 10*time.Second),

			SessionStore:       strings.ToLower(getEnv("SESSION_STORE", SessionStorePostgres)),
			MaxSessionsPerUser: getEnvAsInt("MAX_SESSIONS_PER_USER", 5),
			InactivityTimeout:  getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 24*time.Hour),

			StandardAbsoluteTimeout: getEnvAsDuration("ABSOLUTE_TIMEOUT_STANDARD", 8*time.Hour),
			ElevatedAbsoluteTimeout: getEnvAsDuration("ABSOLUTE_TIMEOUT_ELEVATED", 6*time.Hour),

			SweepInterval:            getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
			AccountCleanupInterval:   getEnvAsDuration("ACCOUNT_CLEANUP_INTERVAL", 24*time.Hour),
			UnconfirmedAccountMaxAge: getEnvAsDuration("UNCONFIRMED_ACCOUNT_MAX_AGE", 7*24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			SupportURL:  getEnv("SUPPORT_URL", "http://localhost:8080/account/security"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if err := validateJWTSecret(c.Auth.JWTSecret, c.Server.Env); err != nil {
		errs = append(errs, err)
	}
	if c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}

	s := c.Security
	if s.MaxFailedAttempts < 1 || s.AdaptiveMaxFailedAttempts < 1 {
		errs = append(errs, errors.New("lockout failure thresholds must be at least 1"))
	}
	if s.AdaptiveMaxFailedAttempts > s.MaxFailedAttempts {
		errs = append(errs, errors.New("LOCKOUT_ADAPTIVE_MAX_FAILURES must not exceed LOCKOUT_MAX_FAILURES"))
	}
	if len(s.LockoutSchedule) == 0 {
		errs = append(errs, errors.New("LOCKOUT_SCHEDULE must contain at least one duration"))
	}
	for i := 1; i < len(s.LockoutSchedule); i++ {
		if s.LockoutSchedule[i] < s.LockoutSchedule[i-1] {
			errs = append(errs, errors.New("LOCKOUT_SCHEDULE must be non-decreasing"))
			break
		}
	}
	if s.SessionStore != SessionStorePostgres && s.SessionStore != SessionStoreMemory {
		errs = append(errs, fmt.Errorf("SESSION_STORE must be %q or %q", SessionStorePostgres, SessionStoreMemory))
	}
	if s.MaxSessionsPerUser < 1 {
		errs = append(errs, errors.New("MAX_SESSIONS_PER_USER must be at least 1"))
	}
	if s.SweepInterval <= 0 || s.AccountCleanupInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is set"))
	}

	return errors.Join(errs...)
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	switch strings.ToLower(secret) {
	case "secret", "password", "changeme", "default", "example":
		return errors.New("JWT_SECRET cannot be a common weak value")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsDurationList parses a comma-separated list such as "30s,2m,4m".
// Any unparsable entry makes the whole value fall back to the default.
func getEnvAsDurationList(key string, defaultVal []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return defaultVal
		}
		out = append(out, d)
	}
	return out
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
