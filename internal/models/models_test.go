package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockoutError_Is(t *testing.T) {
	locked := &LockoutError{RetryAfter: 30 * time.Second}
	throttled := &LockoutError{RetryAfter: time.Minute, Throttled: true}

	assert.ErrorIs(t, locked, ErrAccountLocked)
	assert.ErrorIs(t, locked, ErrRateLimitExceeded)
	assert.ErrorIs(t, throttled, ErrRateLimitExceeded)
	assert.NotErrorIs(t, throttled, ErrAccountLocked)

	wrapped := fmt.Errorf("login: %w", locked)
	var target *LockoutError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, 30*time.Second, target.RetryAfter)
	assert.Contains(t, locked.Error(), "30s")
}

func TestSession_IdleSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{State: SessionStateActive, LastActivityAt: now.Add(-24 * time.Hour)}

	assert.True(t, s.IsActive())
	assert.False(t, s.IdleSince(now, 24*time.Hour))
	assert.True(t, s.IdleSince(now.Add(time.Second), 24*time.Hour))

	s.State = SessionStateExpired
	assert.False(t, s.IsActive())
}

func TestAttemptStatus_IsLocked(t *testing.T) {
	now := time.Now()
	until := now.Add(time.Minute)

	assert.False(t, AttemptStatus{}.IsLocked(now))
	assert.True(t, AttemptStatus{LockedUntil: &until}.IsLocked(now))
	assert.False(t, AttemptStatus{LockedUntil: &until}.IsLocked(until))
}
