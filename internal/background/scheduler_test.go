package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories"
	"github.com/BradenHooton/authcore/internal/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(testLogger())
	run := func(context.Context) (int, error) { return 0, nil }

	assert.Error(t, s.Add(Job{Interval: time.Second, Run: run}))
	assert.Error(t, s.Add(Job{Name: "no-run", Interval: time.Second}))
	assert.Error(t, s.Add(Job{Name: "no-interval", Run: run}))
	require.NoError(t, s.Add(Job{Name: "ok", Interval: time.Second, Run: run}))
	assert.Equal(t, 30*time.Second, s.jobs[0].Timeout)

	s.Start(context.Background())
	defer s.Stop()
	assert.Error(t, s.Add(Job{Name: "late", Interval: time.Second, Run: run}))
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	s := NewScheduler(testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) (int, error) {
			runs.Add(1)
			return 1, nil
		},
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	// Stop is idempotent
	s.Stop()
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	s := NewScheduler(testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) (int, error) {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return 0, errors.New("still failing")
		},
	}))

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := NewScheduler(testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var deadlineSet atomic.Bool
	require.NoError(t, s.Add(Job{
		Name:     "deadline",
		Interval: time.Hour,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) (int, error) {
			_, ok := ctx.Deadline()
			deadlineSet.Store(ok)
			return 0, nil
		},
	}))

	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
	assert.True(t, deadlineSet.Load())
}

func TestSessionSweepJob(t *testing.T) {
	store := repositories.NewMemorySessionStore()
	mgr := services.NewSessionManager(store, services.DefaultSessionManagerConfig(), nil, nil, testLogger(), nil)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Save(ctx, &models.Session{
		ID: "stale", UserID: "u1", AuthTokenID: "t1", State: models.SessionStateExpired,
		StartedAt: now, LastActivityAt: now,
	}))

	removed, err := SessionSweepJob(mgr, time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Len())
}

func TestAbsoluteTimeoutSweepJob(t *testing.T) {
	cfg := services.AbsoluteTimeoutConfig{StandardTimeout: -time.Second, ElevatedTimeout: -time.Second}
	reg := services.NewAbsoluteTimeoutRegistry(cfg, nil, nil, testLogger())
	reg.Register("u1", models.RoleUser)

	job := AbsoluteTimeoutSweepJob(reg, time.Minute)
	removed, err := job.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, JobAbsoluteTimeoutSweep, job.Name)
	assert.Equal(t, 1, removed)
}

func TestAttemptLedgerEvictionJob(t *testing.T) {
	cfg := services.DefaultAttemptLedgerConfig()
	cfg.IdleTTL = -time.Second
	ledger := services.NewAttemptLedger(cfg, nil, nil, nil, testLogger())
	ledger.RecordFailure("u@example.com", "10.0.0.1")

	removed, err := AttemptLedgerEvictionJob(ledger, time.Minute).Run(context.Background())

	require.NoError(t, err)
	// One attempt record plus one source state
	assert.Equal(t, 2, removed)
}

type fakePurger struct {
	cutoff time.Time
	err    error
}

func (f *fakePurger) DeleteUnconfirmedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestUnconfirmedAccountCleanupJob(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	purger := &fakePurger{}

	job := UnconfirmedAccountCleanupJob(purger, 7*24*time.Hour, time.Hour, fixedClock{now: now})
	removed, err := job.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, now.Add(-7*24*time.Hour), purger.cutoff)
	assert.Equal(t, time.Minute, job.Timeout)
}
