package services

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/authcore/internal/metrics"
	"github.com/BradenHooton/authcore/internal/models"
)

// AbsoluteTimeoutConfig holds the hard session ceilings per role class
type AbsoluteTimeoutConfig struct {
	StandardTimeout time.Duration // Regular accounts, and any unrecognized role
	ElevatedTimeout time.Duration // Creators and administrators
}

// DefaultAbsoluteTimeoutConfig returns the reference configuration
func DefaultAbsoluteTimeoutConfig() AbsoluteTimeoutConfig {
	return AbsoluteTimeoutConfig{
		StandardTimeout: 8 * time.Hour,
		ElevatedTimeout: 6 * time.Hour,
	}
}

// RoleTimeout maps a role to its absolute session lifetime. Unknown roles get
// the least-privileged (standard) timeout.
func (c AbsoluteTimeoutConfig) RoleTimeout(role string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case models.RoleAdmin, models.RoleCreator:
		return c.ElevatedTimeout
	default:
		return c.StandardTimeout
	}
}

type absoluteEntry struct {
	role      string
	loginAt   time.Time
	expiresAt time.Time
}

// AbsoluteTimeoutRegistry tracks a hard expiry per logged-in user that is
// independent of session activity
type AbsoluteTimeoutRegistry struct {
	config  AbsoluteTimeoutConfig
	clock   Clock
	metrics *metrics.SecurityMetrics
	logger  *slog.Logger
	entries sync.Map // userID -> *absoluteEntry
}

// NewAbsoluteTimeoutRegistry creates a new AbsoluteTimeoutRegistry
func NewAbsoluteTimeoutRegistry(config AbsoluteTimeoutConfig, clock Clock, m *metrics.SecurityMetrics, logger *slog.Logger) *AbsoluteTimeoutRegistry {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AbsoluteTimeoutRegistry{
		config:  config,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Register starts (or restarts) the absolute clock for the user
func (r *AbsoluteTimeoutRegistry) Register(userID, role string) {
	if userID == "" {
		return
	}
	now := r.clock.Now()
	r.entries.Store(userID, &absoluteEntry{
		role:      role,
		loginAt:   now,
		expiresAt: now.Add(r.config.RoleTimeout(role)),
	})
}

// IsValid reports whether the user is inside their absolute lifetime.
// An expired entry is removed.
func (r *AbsoluteTimeoutRegistry) IsValid(userID string) bool {
	v, ok := r.entries.Load(userID)
	if !ok {
		return false
	}

	entry := v.(*absoluteEntry)
	if r.clock.Now().After(entry.expiresAt) {
		r.entries.CompareAndDelete(userID, v)
		r.logger.Info("absolute session lifetime reached",
			slog.String("user_id", userID),
			slog.String("role", entry.role),
			slog.Time("login_at", entry.loginAt))
		return false
	}
	return true
}

// Invalidate removes the user's entry
func (r *AbsoluteTimeoutRegistry) Invalidate(userID string) {
	r.entries.Delete(userID)
}

// Remaining returns the time left before the absolute expiry. ok is false when
// there is no entry or it has already expired.
func (r *AbsoluteTimeoutRegistry) Remaining(userID string) (time.Duration, bool) {
	v, ok := r.entries.Load(userID)
	if !ok {
		return 0, false
	}

	remaining := v.(*absoluteEntry).expiresAt.Sub(r.clock.Now())
	if remaining < 0 {
		return 0, false
	}
	return remaining, true
}

// Sweep removes every expired entry. Returns the number removed.
func (r *AbsoluteTimeoutRegistry) Sweep() int {
	now := r.clock.Now()
	removed := 0

	r.entries.Range(func(key, value any) bool {
		if now.After(value.(*absoluteEntry).expiresAt) && r.entries.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})

	r.metrics.Swept("absolute_timeouts", removed)
	if removed > 0 {
		r.logger.Info("absolute timeout sweep completed", slog.Int("removed", removed))
	}
	return removed
}

// Len returns the number of tracked users
func (r *AbsoluteTimeoutRegistry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
