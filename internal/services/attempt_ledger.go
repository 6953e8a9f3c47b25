package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/authcore/internal/metrics"
	"github.com/BradenHooton/authcore/internal/models"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

// LockoutNotifier delivers security alerts when a credential is locked out
type LockoutNotifier interface {
	SendLockoutAlert(ctx context.Context, credentialID string, cumulativeAttempts int) error
}

// AttemptLedgerConfig holds configuration for brute-force defense
type AttemptLedgerConfig struct {
	MaxFailures                 int             // Failures in the window that trigger a lockout
	AdaptiveMaxFailures         int             // Same, while the source is in adaptive mode
	FailureWindow               time.Duration   // Sliding window for failures and distinct credentials
	LockoutSchedule             []time.Duration // Lockout duration per level, last entry reused
	AdaptiveCredentialThreshold int             // Distinct credentials from one source that trigger adaptive mode
	AdaptiveWindow              time.Duration   // How long adaptive mode lasts
	AdaptiveDelay               time.Duration   // Forced delay applied when a source enters adaptive mode
	IdleTTL                     time.Duration   // Records idle longer than this are evicted
	NotifyTimeout               time.Duration   // Upper bound for a single lockout alert delivery
}

// DefaultAttemptLedgerConfig returns the reference configuration
func DefaultAttemptLedgerConfig() AttemptLedgerConfig {
	return AttemptLedgerConfig{
		MaxFailures:                 5,
		AdaptiveMaxFailures:         2,
		FailureWindow:               5 * time.Minute,
		LockoutSchedule:             []time.Duration{30 * time.Second, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute},
		AdaptiveCredentialThreshold: 20,
		AdaptiveWindow:              5 * time.Minute,
		AdaptiveDelay:               2 * time.Second,
		IdleTTL:                     1 * time.Hour,
		NotifyTimeout:               10 * time.Second,
	}
}

type attemptKey struct {
	credentialID  string
	sourceAddress string
}

// attemptRecord is guarded by its own mutex so unrelated keys never contend.
// evicted is set under mu when the record is dropped from the map; holders of a
// stale pointer must look the key up again.
type attemptRecord struct {
	mu               sync.Mutex
	failures         []time.Time
	lockoutLevel     int
	lockoutStartedAt *time.Time
	cumulative       int
	lastSeen         time.Time
	evicted          bool
}

type sourceState struct {
	mu            sync.Mutex
	credentials   map[string]time.Time
	adaptiveUntil time.Time
	lastSeen      time.Time
	evicted       bool
}

// AttemptLedger tracks failed logins per (credential, source address) and
// per-source fan-out, and decides lockouts
type AttemptLedger struct {
	config   AttemptLedgerConfig
	clock    Clock
	notifier LockoutNotifier
	metrics  *metrics.SecurityMetrics
	logger   *slog.Logger
	sleep    func(time.Duration)

	recordsMu sync.RWMutex
	records   map[attemptKey]*attemptRecord

	sourcesMu sync.RWMutex
	sources   map[string]*sourceState
}

// NewAttemptLedger creates a new AttemptLedger. notifier and m may be nil.
func NewAttemptLedger(config AttemptLedgerConfig, clock Clock, notifier LockoutNotifier, m *metrics.SecurityMetrics, logger *slog.Logger) *AttemptLedger {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptLedger{
		config:   config,
		clock:    clock,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		sleep:    time.Sleep,
		records:  make(map[attemptKey]*attemptRecord),
		sources:  make(map[string]*sourceState),
	}
}

// SetSleeper replaces the function used for the adaptive-mode delay
func (l *AttemptLedger) SetSleeper(sleep func(time.Duration)) {
	l.sleep = sleep
}

// LockoutDuration returns the lockout length for the given level (1-based).
// Levels past the end of the schedule reuse the last entry.
func (l *AttemptLedger) LockoutDuration(level int) time.Duration {
	schedule := l.config.LockoutSchedule
	if level <= 0 || len(schedule) == 0 {
		return 0
	}
	idx := level - 1
	if idx > len(schedule)-1 {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// IsBlocked reports whether a lockout is active for the key. An elapsed lockout
// is cleared as a side effect.
func (l *AttemptLedger) IsBlocked(credentialID, sourceAddress string) bool {
	rec := l.lockRecord(attemptKey{credentialID, sourceAddress}, false)
	if rec == nil {
		return false
	}
	defer rec.mu.Unlock()

	return l.checkLockout(rec, l.clock.Now())
}

// IsSourceThrottled reports whether the source address is in adaptive mode
func (l *AttemptLedger) IsSourceThrottled(sourceAddress string) bool {
	st := l.lockSource(sourceAddress, false)
	if st == nil {
		return false
	}
	defer st.mu.Unlock()

	return l.clock.Now().Before(st.adaptiveUntil)
}

// RetryAfter returns how long the key stays locked. When the key is not
// locked it falls back to the remaining adaptive window of the source, which
// is 0 for sources that are not throttled.
func (l *AttemptLedger) RetryAfter(credentialID, sourceAddress string) time.Duration {
	if remaining := l.lockoutRemaining(credentialID, sourceAddress); remaining > 0 {
		return remaining
	}
	return l.ThrottleRemaining(sourceAddress)
}

func (l *AttemptLedger) lockoutRemaining(credentialID, sourceAddress string) time.Duration {
	rec := l.lockRecord(attemptKey{credentialID, sourceAddress}, false)
	if rec == nil {
		return 0
	}
	defer rec.mu.Unlock()

	now := l.clock.Now()
	if !l.checkLockout(rec, now) {
		return 0
	}
	return rec.lockoutStartedAt.Add(l.LockoutDuration(rec.lockoutLevel)).Sub(now)
}

// DelayIfThrottled applies the forced adaptive delay when the source is in
// adaptive mode and reports whether it did. No lock is held while sleeping.
func (l *AttemptLedger) DelayIfThrottled(sourceAddress string) bool {
	if !l.IsSourceThrottled(sourceAddress) {
		return false
	}
	if l.config.AdaptiveDelay > 0 {
		l.sleep(l.config.AdaptiveDelay)
	}
	return true
}

// ThrottleRemaining returns how long the source stays in adaptive mode
func (l *AttemptLedger) ThrottleRemaining(sourceAddress string) time.Duration {
	st := l.lockSource(sourceAddress, false)
	if st == nil {
		return 0
	}
	defer st.mu.Unlock()

	remaining := st.adaptiveUntil.Sub(l.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot of the brute-force state for the key
func (l *AttemptLedger) Status(credentialID, sourceAddress string) models.AttemptStatus {
	status := models.AttemptStatus{
		CredentialID:    credentialID,
		SourceAddress:   sourceAddress,
		SourceThrottled: l.IsSourceThrottled(sourceAddress),
	}

	rec := l.lockRecord(attemptKey{credentialID, sourceAddress}, false)
	if rec == nil {
		return status
	}
	defer rec.mu.Unlock()

	now := l.clock.Now()
	if l.checkLockout(rec, now) {
		until := rec.lockoutStartedAt.Add(l.LockoutDuration(rec.lockoutLevel))
		status.LockedUntil = &until
	}
	status.FailureCount = len(pruneFailures(rec.failures, now.Add(-l.config.FailureWindow)))
	status.LockoutLevel = rec.lockoutLevel
	return status
}

// RecordFailure registers a failed login. Calls for a key that is currently
// locked out are ignored so lockouts are never extended by double counting.
func (l *AttemptLedger) RecordFailure(credentialID, sourceAddress string) {
	if l.IsBlocked(credentialID, sourceAddress) {
		return
	}

	if l.registerSourceCredential(credentialID, sourceAddress) {
		l.metrics.AdaptiveModeEntered()
		l.logger.Warn("source entered adaptive throttling mode",
			slog.String("ip_address", sourceAddress),
			slog.Duration("delay", l.config.AdaptiveDelay))
		// No lock is held here.
		if l.config.AdaptiveDelay > 0 {
			l.sleep(l.config.AdaptiveDelay)
		}
	}

	threshold := l.config.MaxFailures
	if l.IsSourceThrottled(sourceAddress) {
		threshold = l.config.AdaptiveMaxFailures
	}

	now := l.clock.Now()
	rec := l.lockRecord(attemptKey{credentialID, sourceAddress}, true)

	// A concurrent failure may have locked the key while we slept.
	if l.checkLockout(rec, now) {
		rec.mu.Unlock()
		return
	}

	rec.failures = append(pruneFailures(rec.failures, now.Add(-l.config.FailureWindow)), now)
	rec.cumulative++
	rec.lastSeen = now

	if len(rec.failures) < threshold {
		rec.mu.Unlock()
		return
	}

	rec.lockoutLevel++
	startedAt := now
	rec.lockoutStartedAt = &startedAt
	rec.failures = nil
	level := rec.lockoutLevel
	cumulative := rec.cumulative
	rec.mu.Unlock()

	l.metrics.LockoutTriggered(level)
	l.logger.Warn("credential locked out",
		slog.String("email", pkglogger.SanitizedEmail(credentialID)),
		slog.String("ip_address", sourceAddress),
		slog.Int("lockout_level", level),
		slog.Int("cumulative_attempts", cumulative),
		slog.Duration("lockout_duration", l.LockoutDuration(level)))

	l.notify(credentialID, cumulative)
}

// Reset clears all state for the key after a successful login
func (l *AttemptLedger) Reset(credentialID, sourceAddress string) {
	key := attemptKey{credentialID, sourceAddress}
	rec := l.lockRecord(key, false)
	if rec == nil {
		return
	}
	l.dropRecord(key, rec)
	rec.mu.Unlock()
}

// EvictIdle removes records and source states that have been idle longer than
// IdleTTL. Records under an active lockout are kept. Returns the number of
// entries removed.
func (l *AttemptLedger) EvictIdle() int {
	now := l.clock.Now()
	removed := 0

	l.recordsMu.RLock()
	snapshot := make(map[attemptKey]*attemptRecord, len(l.records))
	for key, rec := range l.records {
		snapshot[key] = rec
	}
	l.recordsMu.RUnlock()

	for key, rec := range snapshot {
		rec.mu.Lock()
		if !rec.evicted && now.Sub(rec.lastSeen) > l.config.IdleTTL && !l.checkLockout(rec, now) {
			l.dropRecord(key, rec)
			removed++
		}
		rec.mu.Unlock()
	}

	l.sourcesMu.RLock()
	sources := make(map[string]*sourceState, len(l.sources))
	for addr, st := range l.sources {
		sources[addr] = st
	}
	l.sourcesMu.RUnlock()

	for addr, st := range sources {
		st.mu.Lock()
		if !st.evicted && now.Sub(st.lastSeen) > l.config.IdleTTL && !now.Before(st.adaptiveUntil) {
			st.evicted = true
			l.sourcesMu.Lock()
			if l.sources[addr] == st {
				delete(l.sources, addr)
			}
			l.sourcesMu.Unlock()
			removed++
		}
		st.mu.Unlock()
	}

	return removed
}

// checkLockout reports whether rec is locked at now, clearing an elapsed
// lockout. The lockout level is kept so repeat offenders escalate. Caller holds rec.mu.
func (l *AttemptLedger) checkLockout(rec *attemptRecord, now time.Time) bool {
	if rec.lockoutStartedAt == nil {
		return false
	}
	if now.Before(rec.lockoutStartedAt.Add(l.LockoutDuration(rec.lockoutLevel))) {
		return true
	}
	rec.lockoutStartedAt = nil
	rec.failures = nil
	return false
}

// registerSourceCredential adds credentialID to the source's distinct set and
// reports whether this pushed the source into adaptive mode
func (l *AttemptLedger) registerSourceCredential(credentialID, sourceAddress string) bool {
	st := l.lockSource(sourceAddress, true)
	defer st.mu.Unlock()

	now := l.clock.Now()
	st.lastSeen = now

	cutoff := now.Add(-l.config.FailureWindow)
	for cred, seen := range st.credentials {
		if seen.Before(cutoff) {
			delete(st.credentials, cred)
		}
	}
	st.credentials[credentialID] = now

	if len(st.credentials) < l.config.AdaptiveCredentialThreshold {
		return false
	}

	st.adaptiveUntil = now.Add(l.config.AdaptiveWindow)
	st.credentials = make(map[string]time.Time)
	return true
}

// lockRecord returns the record for key with its mutex held, or nil when
// create is false and no record exists
func (l *AttemptLedger) lockRecord(key attemptKey, create bool) *attemptRecord {
	for {
		l.recordsMu.RLock()
		rec := l.records[key]
		l.recordsMu.RUnlock()

		if rec == nil {
			if !create {
				return nil
			}
			l.recordsMu.Lock()
			rec = l.records[key]
			if rec == nil {
				rec = &attemptRecord{lastSeen: l.clock.Now()}
				l.records[key] = rec
			}
			l.recordsMu.Unlock()
		}

		rec.mu.Lock()
		if !rec.evicted {
			return rec
		}
		rec.mu.Unlock()
	}
}

// dropRecord removes rec from the map. Caller holds rec.mu.
func (l *AttemptLedger) dropRecord(key attemptKey, rec *attemptRecord) {
	rec.evicted = true
	l.recordsMu.Lock()
	if l.records[key] == rec {
		delete(l.records, key)
	}
	l.recordsMu.Unlock()
}

func (l *AttemptLedger) lockSource(sourceAddress string, create bool) *sourceState {
	for {
		l.sourcesMu.RLock()
		st := l.sources[sourceAddress]
		l.sourcesMu.RUnlock()

		if st == nil {
			if !create {
				return nil
			}
			l.sourcesMu.Lock()
			st = l.sources[sourceAddress]
			if st == nil {
				st = &sourceState{credentials: make(map[string]time.Time)}
				l.sources[sourceAddress] = st
			}
			l.sourcesMu.Unlock()
		}

		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// notify sends the lockout alert without blocking the caller. Failures are logged.
func (l *AttemptLedger) notify(credentialID string, cumulativeAttempts int) {
	if l.notifier == nil {
		return
	}

	timeout := l.config.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := l.notifier.SendLockoutAlert(ctx, credentialID, cumulativeAttempts); err != nil {
			l.logger.Error("failed to send lockout alert",
				slog.String("email", pkglogger.SanitizedEmail(credentialID)),
				slog.Any("error", err))
		}
	}()
}

// pruneFailures drops timestamps before cutoff. failures is ordered oldest first.
func pruneFailures(failures []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(failures) && failures[i].Before(cutoff) {
		i++
	}
	return failures[i:]
}
