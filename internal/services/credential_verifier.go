package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
)

// UserRepository is the account lookup the password verifier needs
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// CredentialVerifier checks a secret for a credential identifier and returns
// the matching account. A wrong or unknown credential yields
// models.ErrUnauthorized; account-state problems yield their own sentinels.
type CredentialVerifier interface {
	Verify(ctx context.Context, credentialID, secret string) (*models.User, error)
}

// PasswordVerifier verifies email/password pairs against bcrypt hashes
type PasswordVerifier struct {
	users UserRepository
}

// NewPasswordVerifier creates a new PasswordVerifier
func NewPasswordVerifier(users UserRepository) *PasswordVerifier {
	return &PasswordVerifier{users: users}
}

// Verify implements CredentialVerifier. An unknown email still pays for one
// bcrypt comparison.
func (v *PasswordVerifier) Verify(ctx context.Context, credentialID, secret string) (*models.User, error) {
	user, err := v.users.GetByEmail(ctx, credentialID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.CompareDummy(secret)
			return nil, models.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		pkgauth.CompareDummy(secret)
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, secret); err != nil {
		if errors.Is(err, pkgauth.ErrMismatch) {
			return nil, models.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}

	if err := validateAccountState(user); err != nil {
		return nil, err
	}
	return user, nil
}

// validateAccountState rejects accounts that may not sign in even with the
// right secret
func validateAccountState(user *models.User) error {
	switch strings.ToLower(user.Status) {
	case models.UserStatusDisabled:
		return models.ErrAccountDisabled
	case models.UserStatusSuspended:
		return models.ErrAccountSuspended
	case models.UserStatusActive:
	default:
		return fmt.Errorf("unknown account status %q: %w", user.Status, models.ErrForbidden)
	}

	if !user.EmailVerified {
		return models.ErrEmailNotVerified
	}
	return nil
}

// NormalizeCredentialID canonicalises an email so ledger keys and lookups agree
func NormalizeCredentialID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
