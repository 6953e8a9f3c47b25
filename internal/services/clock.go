package services

import "time"

// Clock provides the current time. Injected so lockout windows and session
// lifetimes can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}
