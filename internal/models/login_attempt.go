package models

import "time"

// AttemptStatus is a point-in-time view of brute-force state for a
// (credential, source address) pair
type AttemptStatus struct {
	CredentialID    string
	SourceAddress   string
	FailureCount    int        // Failures inside the sliding window
	LockoutLevel    int        // Number of lockouts served since the last reset
	LockedUntil     *time.Time // Set while a lockout is active
	SourceThrottled bool       // Source address is in adaptive mode
}

// IsLocked reports whether a lockout is active at the supplied moment
func (s AttemptStatus) IsLocked(at time.Time) bool {
	return s.LockedUntil != nil && at.Before(*s.LockedUntil)
}
