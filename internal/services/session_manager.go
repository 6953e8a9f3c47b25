package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/authcore/internal/metrics"
	"github.com/BradenHooton/authcore/internal/models"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
	"github.com/google/uuid"
)

// SessionStore defines the persistence operations the session manager needs.
// Finders return (nil, nil) when nothing matches; deletes of missing records
// return nil or models.ErrNotFound.
type SessionStore interface {
	Save(ctx context.Context, session *models.Session) error
	Touch(ctx context.Context, sessionID string, at time.Time) error
	FindByToken(ctx context.Context, authTokenID string) (*models.Session, error)
	FindActiveByUser(ctx context.Context, userID string) ([]*models.Session, error)
	FindAll(ctx context.Context) ([]*models.Session, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

// sessionReplacer is implemented by stores that can swap a user's sessions
// for a new one atomically
type sessionReplacer interface {
	ReplaceAllForUser(ctx context.Context, session *models.Session) (int64, error)
}

// SessionManagerConfig holds configuration for session lifecycle rules
type SessionManagerConfig struct {
	MaxSessionsPerUser int
	InactivityTimeout  time.Duration
}

// DefaultSessionManagerConfig returns the reference configuration
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		MaxSessionsPerUser: 5,
		InactivityTimeout:  24 * time.Hour,
	}
}

// Rejection reasons reported by ValidateSession
const (
	rejectNotFound      = "not_found"
	rejectNotActive     = "not_active"
	rejectSourceChanged = "source_mismatch"
	rejectIdle          = "idle_timeout"
	rejectStoreError    = "store_error"
)

// SessionManager enforces the per-user session cap, hijack detection,
// fixation rotation and inactivity expiry
type SessionManager struct {
	store       SessionStore
	config      SessionManagerConfig
	clock       Clock
	metrics     *metrics.SecurityMetrics
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	userLocks   *keyedMutex
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(store SessionStore, config SessionManagerConfig, clock Clock, m *metrics.SecurityMetrics, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionManager {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:       store,
		config:      config,
		clock:       clock,
		metrics:     m,
		logger:      logger,
		auditLogger: auditLogger,
		userLocks:   newKeyedMutex(),
	}
}

// CreateSession starts a new session for the user. When the user already holds
// the maximum number of active sessions, the oldest ones (by start time, then
// ID) are deleted first.
func (m *SessionManager) CreateSession(ctx context.Context, userID, sourceAddress, authTokenID string) (*models.Session, error) {
	unlock := m.userLocks.Lock(userID)
	defer unlock()

	if err := m.enforceCap(ctx, userID); err != nil {
		return nil, err
	}

	return m.insert(ctx, userID, sourceAddress, authTokenID)
}

// ValidateSession checks the session bound to authTokenID. A session that is
// missing, not active, presented from a different source address or idle past
// the inactivity ceiling is denied, and deleted when it exists. On success the
// session's last activity is refreshed.
func (m *SessionManager) ValidateSession(ctx context.Context, authTokenID, sourceAddress string) bool {
	if authTokenID == "" {
		m.metrics.SessionRejected(rejectNotFound)
		return false
	}

	session, err := m.store.FindByToken(ctx, authTokenID)
	if err != nil {
		m.logger.Error("failed to look up session", slog.Any("error", err))
		m.metrics.SessionRejected(rejectStoreError)
		return false
	}
	if session == nil {
		m.metrics.SessionRejected(rejectNotFound)
		return false
	}

	now := m.clock.Now()

	var reason string
	switch {
	case !session.IsActive():
		reason = rejectNotActive
	case session.SourceAddress != sourceAddress:
		reason = rejectSourceChanged
		m.logger.Warn("possible session hijack: source address changed",
			slog.String("user_id", session.UserID),
			slog.String("session_id", session.ID),
			slog.String("expected_ip", session.SourceAddress),
			slog.String("ip_address", sourceAddress))
	case session.IdleSince(now, m.config.InactivityTimeout):
		reason = rejectIdle
	default:
		if err := m.store.Touch(ctx, session.ID, now); err != nil && !errors.Is(err, models.ErrNotFound) {
			m.logger.Warn("failed to refresh session activity",
				slog.String("session_id", session.ID),
				slog.Any("error", err))
		}
		return true
	}

	m.metrics.SessionRejected(reason)
	m.deleteSession(ctx, session.ID)
	m.auditSession("session_rejected", session, sourceAddress, reason)
	return false
}

// RotateOnFixation deletes every session of the user and creates a fresh one
func (m *SessionManager) RotateOnFixation(ctx context.Context, userID, sourceAddress, authTokenID string) (*models.Session, error) {
	unlock := m.userLocks.Lock(userID)
	defer unlock()

	replacer, ok := m.store.(sessionReplacer)
	if !ok {
		removed, err := m.store.DeleteAllForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete sessions for rotation: %w", err)
		}
		m.logRotation(userID, removed)
		return m.insert(ctx, userID, sourceAddress, authTokenID)
	}

	session := m.newSession(userID, sourceAddress, authTokenID)
	removed, err := replacer.ReplaceAllForUser(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate sessions: %w", err)
	}
	m.logRotation(userID, removed)
	m.recordCreated(session, sourceAddress)
	return session, nil
}

func (m *SessionManager) logRotation(userID string, removed int64) {
	m.logger.Info("sessions rotated",
		slog.String("user_id", userID),
		slog.Int64("sessions_removed", removed))
}

// Terminate deletes a session by ID. Missing sessions are not an error.
func (m *SessionManager) Terminate(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	return nil
}

// TerminateByToken deletes the session bound to authTokenID, if any
func (m *SessionManager) TerminateByToken(ctx context.Context, authTokenID string) error {
	if authTokenID == "" {
		return nil
	}

	session, err := m.store.FindByToken(ctx, authTokenID)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil {
		return nil
	}

	return m.Terminate(ctx, session.ID)
}

// TerminateAllForUser deletes every session of the user
func (m *SessionManager) TerminateAllForUser(ctx context.Context, userID string) error {
	unlock := m.userLocks.Lock(userID)
	defer unlock()

	removed, err := m.store.DeleteAllForUser(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to terminate user sessions: %w", err)
	}

	m.logger.Info("all sessions terminated",
		slog.String("user_id", userID),
		slog.Int64("sessions_removed", removed))
	return nil
}

// SweepExpired deletes sessions that are EXPIRED or BLOCKED, have no token
// bound, or have been idle past the inactivity ceiling. Each session is deleted
// at most once even if it matches several criteria. Returns the number deleted.
func (m *SessionManager) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := m.store.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions for sweep: %w", err)
	}

	now := m.clock.Now()
	marked := make(map[string]struct{})
	var doomed []string
	mark := func(id string) {
		if _, ok := marked[id]; ok {
			return
		}
		marked[id] = struct{}{}
		doomed = append(doomed, id)
	}

	var inactive, orphaned, idle int
	for _, s := range sessions {
		if !s.IsActive() {
			inactive++
			mark(s.ID)
		}
	}
	for _, s := range sessions {
		if s.AuthTokenID == "" {
			orphaned++
			mark(s.ID)
		}
	}
	for _, s := range sessions {
		if s.IdleSince(now, m.config.InactivityTimeout) {
			idle++
			mark(s.ID)
		}
	}

	deleted := 0
	for _, id := range doomed {
		if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
			m.logger.Error("failed to delete session during sweep",
				slog.String("session_id", id),
				slog.Any("error", err))
			continue
		}
		deleted++
	}

	m.metrics.Swept("sessions", deleted)
	if deleted > 0 {
		m.logger.Info("session sweep completed",
			slog.Int("deleted", deleted),
			slog.Int("inactive_state", inactive),
			slog.Int("orphaned", orphaned),
			slog.Int("idle", idle))
	}

	return deleted, nil
}

// enforceCap deletes the oldest active sessions until there is room for one
// more. Caller holds the user lock.
func (m *SessionManager) enforceCap(ctx context.Context, userID string) error {
	limit := m.config.MaxSessionsPerUser
	if limit <= 0 {
		return nil
	}

	count, err := m.store.CountActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count active sessions: %w", err)
	}
	if count < limit {
		return nil
	}

	active, err := m.store.FindActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].StartedAt.Before(active[j].StartedAt)
		}
		return active[i].ID < active[j].ID
	})

	excess := len(active) - limit + 1
	if excess > len(active) {
		excess = len(active)
	}

	for _, s := range active[:max(excess, 0)] {
		if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to evict session: %w", err)
		}
		m.metrics.SessionEvicted()
		m.auditSession("session_evicted", s, s.SourceAddress, "concurrency_cap")
	}

	return nil
}

func (m *SessionManager) newSession(userID, sourceAddress, authTokenID string) *models.Session {
	now := m.clock.Now()
	return &models.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		SourceAddress:  sourceAddress,
		AuthTokenID:    authTokenID,
		State:          models.SessionStateActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

func (m *SessionManager) insert(ctx context.Context, userID, sourceAddress, authTokenID string) (*models.Session, error) {
	session := m.newSession(userID, sourceAddress, authTokenID)
	if err := m.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	m.recordCreated(session, sourceAddress)
	return session, nil
}

func (m *SessionManager) recordCreated(session *models.Session, sourceAddress string) {
	m.metrics.SessionCreated()
	m.auditSession("session_created", session, sourceAddress, "")
}

// deleteSession removes a session on a denial path. Errors are logged only.
func (m *SessionManager) deleteSession(ctx context.Context, sessionID string) {
	if err := m.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, models.ErrNotFound) {
		m.logger.Error("failed to delete rejected session",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
}

func (m *SessionManager) auditSession(eventType string, s *models.Session, sourceAddress, reason string) {
	if m.auditLogger == nil {
		return
	}
	m.auditLogger.LogSessionEvent(pkglogger.SessionEvent{
		EventType: eventType,
		UserID:    s.UserID,
		SessionID: s.ID,
		IPAddress: sourceAddress,
		Reason:    reason,
	})
}
