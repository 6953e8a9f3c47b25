package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrEmailNotVerified = errors.New("email address not verified")

	// Brute-force defense errors
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Session errors
	ErrSessionInvalid = errors.New("session is invalid or expired")
	ErrSessionExpired = errors.New("session exceeded its absolute lifetime")
)

// LockoutError is returned when a login is refused because the credential/source
// pair is locked out or the source address is throttled.
type LockoutError struct {
	RetryAfter time.Duration
	Throttled  bool
}

func (e *LockoutError) Error() string {
	if e.Throttled {
		return fmt.Sprintf("source throttled, retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("account is temporarily locked, retry after %s", e.RetryAfter)
}

// Is lets errors.Is match the lockout sentinels.
func (e *LockoutError) Is(target error) bool {
	if e.Throttled {
		return target == ErrRateLimitExceeded
	}
	return target == ErrAccountLocked || target == ErrRateLimitExceeded
}
