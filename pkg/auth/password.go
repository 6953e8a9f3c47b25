package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt ignores bytes past 72
)

// ErrMismatch is returned when a secret does not match its stored hash.
var ErrMismatch = errors.New("password mismatch")

// PasswordValidationError lists every rule a candidate password broke.
// Error() stays generic so callers can echo it to clients.
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password"
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "password123!": {},
	"12345678": {}, "123456789": {}, "qwerty123": {}, "letmein": {},
	"welcome1": {}, "iloveyou": {}, "admin123": {}, "trustno1": {},
	"sunshine": {}, "football": {}, "baseball": {}, "passw0rd": {},
}

// HashPassword hashes a secret with the given bcrypt cost. A cost outside
// bcrypt's range falls back to DefaultBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword reports ErrMismatch for a wrong secret and wraps any
// other bcrypt failure (for example a corrupt hash).
func ComparePassword(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("compare password: %w", err)
	}
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// CompareDummy burns one bcrypt comparison against a fixed hash so that an
// unknown credential costs about as much as a known one.
func CompareDummy(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authcore-dummy-secret"), DefaultBcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// ValidatePassword enforces the password policy used when accounts are created.
func ValidatePassword(password string) error {
	var problems []string

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !lower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !digit {
		problems = append(problems, "must contain a digit")
	}
	if !special {
		problems = append(problems, "must contain a special character")
	}
	if _, common := commonPasswords[strings.ToLower(password)]; common {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}
