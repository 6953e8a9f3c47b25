package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	s := cfg.Security
	assert.Equal(t, 5, s.MaxFailedAttempts)
	assert.Equal(t, 2, s.AdaptiveMaxFailedAttempts)
	assert.Equal(t, 5*time.Minute, s.FailureWindow)
	assert.Equal(t, []time.Duration{30 * time.Second, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute}, s.LockoutSchedule)
	assert.Equal(t, 20, s.AdaptiveCredentialThreshold)
	assert.Equal(t, 5, s.MaxSessionsPerUser)
	assert.Equal(t, 24*time.Hour, s.InactivityTimeout)
	assert.Equal(t, 8*time.Hour, s.StandardAbsoluteTimeout)
	assert.Equal(t, 6*time.Hour, s.ElevatedAbsoluteTimeout)
	assert.Equal(t, 15*time.Minute, s.SweepInterval)
	assert.Equal(t, SessionStorePostgres, s.SessionStore)
	assert.False(t, cfg.Email.Enabled)
}

func TestLoad_CustomSecurityValues(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCKOUT_SCHEDULE", "10s, 1m,1h")
	t.Setenv("MAX_SESSIONS_PER_USER", "3")
	t.Setenv("SESSION_STORE", "MEMORY")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,172.16.0.0/12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{10 * time.Second, time.Minute, time.Hour}, cfg.Security.LockoutSchedule)
	assert.Equal(t, 3, cfg.Security.MaxSessionsPerUser)
	assert.Equal(t, SessionStoreMemory, cfg.Security.SessionStore)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")
	t.Setenv("LOCKOUT_SCHEDULE", "30s,bogus")
	t.Setenv("LOCKOUT_MAX_FAILURES", "five")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Len(t, cfg.Security.LockoutSchedule, 4)
	assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "DB_PASSWORD is required")
}

func TestValidate_SecurityConstraints(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "decreasing schedule",
			mutate:  func(c *Config) { c.Security.LockoutSchedule = []time.Duration{time.Minute, time.Second} },
			wantErr: "non-decreasing",
		},
		{
			name:    "adaptive threshold above normal",
			mutate:  func(c *Config) { c.Security.AdaptiveMaxFailedAttempts = 10 },
			wantErr: "must not exceed",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Security.SessionStore = "redis" },
			wantErr: "SESSION_STORE",
		},
		{
			name:    "email without sender",
			mutate:  func(c *Config) { c.Email.Enabled = true },
			wantErr: "EMAIL_FROM_ADDRESS",
		},
		{
			name:    "short production secret",
			mutate:  func(c *Config) { c.Server.Env = "production"; c.Auth.JWTSecret = "only-sixteen-chr" },
			wantErr: "at least 32",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", c.DSN())
}
