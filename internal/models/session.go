package models

import "time"

// SessionState is the lifecycle state of a session record
type SessionState string

const (
	SessionStateActive  SessionState = "ACTIVE"
	SessionStateExpired SessionState = "EXPIRED"
	SessionStateBlocked SessionState = "BLOCKED"
)

// Session is a login session bound to one bearer token and one source address
type Session struct {
	ID             string       `db:"id"`
	UserID         string       `db:"user_id"`
	SourceAddress  string       `db:"source_address"`
	AuthTokenID    string       `db:"auth_token_id"` // Empty for orphaned records
	State          SessionState `db:"state"`
	StartedAt      time.Time    `db:"started_at"`
	LastActivityAt time.Time    `db:"last_activity_at"`
}

// IsActive reports whether the session is in the ACTIVE state
func (s *Session) IsActive() bool {
	return s.State == SessionStateActive
}

// IdleSince reports whether the last activity is older than the supplied ceiling
func (s *Session) IdleSince(now time.Time, ceiling time.Duration) bool {
	return now.Sub(s.LastActivityAt) > ceiling
}
