package models

import (
	"time"
)

// Account roles. Higher-privilege roles get a stricter absolute session ceiling.
const (
	RoleUser    = "user"
	RoleCreator = "creator"
	RoleAdmin   = "admin"
)

// Account statuses
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDisabled  = "disabled"
)

type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Name          string
	Role          string // "user", "creator", "admin"
	Status        string // "active", "suspended", "disabled"
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
