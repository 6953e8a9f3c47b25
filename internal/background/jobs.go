package background

import (
	"context"
	"time"

	"github.com/BradenHooton/authcore/internal/services"
)

// Job names as they appear in logs
const (
	JobSessionSweep          = "session_sweep"
	JobAbsoluteTimeoutSweep  = "absolute_timeout_sweep"
	JobAttemptLedgerEviction = "attempt_ledger_eviction"
	JobUnconfirmedCleanup    = "unconfirmed_account_cleanup"
)

// UnconfirmedAccountPurger deletes accounts that never verified their email
type UnconfirmedAccountPurger interface {
	DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweepJob removes expired, blocked, orphaned and idle sessions
func SessionSweepJob(sessions *services.SessionManager, interval time.Duration) Job {
	return Job{
		Name:     JobSessionSweep,
		Interval: interval,
		Run:      sessions.SweepExpired,
	}
}

// AbsoluteTimeoutSweepJob drops users past their absolute session lifetime
func AbsoluteTimeoutSweepJob(registry *services.AbsoluteTimeoutRegistry, interval time.Duration) Job {
	return Job{
		Name:     JobAbsoluteTimeoutSweep,
		Interval: interval,
		Run: func(context.Context) (int, error) {
			return registry.Sweep(), nil
		},
	}
}

// AttemptLedgerEvictionJob bounds ledger memory by evicting idle records
func AttemptLedgerEvictionJob(ledger *services.AttemptLedger, interval time.Duration) Job {
	return Job{
		Name:     JobAttemptLedgerEviction,
		Interval: interval,
		Run: func(context.Context) (int, error) {
			return ledger.EvictIdle(), nil
		},
	}
}

// UnconfirmedAccountCleanupJob deletes unverified accounts older than maxAge
func UnconfirmedAccountCleanupJob(users UnconfirmedAccountPurger, maxAge, interval time.Duration, clock services.Clock) Job {
	if clock == nil {
		clock = services.SystemClock{}
	}
	return Job{
		Name:     JobUnconfirmedCleanup,
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) (int, error) {
			removed, err := users.DeleteUnconfirmedBefore(ctx, clock.Now().Add(-maxAge))
			return int(removed), err
		},
	}
}
