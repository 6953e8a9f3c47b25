package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
)

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	hash, err := pkgauth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return hash
}

func TestPasswordVerifier_Verify(t *testing.T) {
	hash := hashForTest(t, "correct-horse")

	userWith := func(mutate func(u *models.User)) *models.User {
		u := NewTestUser("user-1", testCred, models.RoleUser)
		u.PasswordHash = hash
		if mutate != nil {
			mutate(u)
		}
		return u
	}

	tests := []struct {
		name     string
		user     *models.User
		repoErr  error
		password string
		wantErr  error
	}{
		{
			name:     "valid credentials",
			user:     userWith(nil),
			password: "correct-horse",
		},
		{
			name:     "wrong password",
			user:     userWith(nil),
			password: "wrong-horse",
			wantErr:  models.ErrUnauthorized,
		},
		{
			name:     "unknown email",
			repoErr:  models.ErrNotFound,
			password: "correct-horse",
			wantErr:  models.ErrUnauthorized,
		},
		{
			name:     "disabled account",
			user:     userWith(func(u *models.User) { u.Status = models.UserStatusDisabled }),
			password: "correct-horse",
			wantErr:  models.ErrAccountDisabled,
		},
		{
			name:     "suspended account",
			user:     userWith(func(u *models.User) { u.Status = models.UserStatusSuspended }),
			password: "correct-horse",
			wantErr:  models.ErrAccountSuspended,
		},
		{
			name:     "unknown status",
			user:     userWith(func(u *models.User) { u.Status = "archived" }),
			password: "correct-horse",
			wantErr:  models.ErrForbidden,
		},
		{
			name:     "email not verified",
			user:     userWith(func(u *models.User) { u.EmailVerified = false }),
			password: "correct-horse",
			wantErr:  models.ErrEmailNotVerified,
		},
		{
			name:     "wrong password on disabled account hides state",
			user:     userWith(func(u *models.User) { u.Status = models.UserStatusDisabled }),
			password: "wrong-horse",
			wantErr:  models.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockUserRepository{
				GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
					assert.Equal(t, testCred, email)
					return tt.user, tt.repoErr
				},
			}

			user, err := NewPasswordVerifier(repo).Verify(context.Background(), testCred, tt.password)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", user.ID)
		})
	}
}

func TestPasswordVerifier_RepositoryFailure(t *testing.T) {
	repo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := NewPasswordVerifier(repo).Verify(context.Background(), testCred, "whatever")

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnauthorized)
}

func TestNormalizeCredentialID(t *testing.T) {
	assert.Equal(t, "u@example.com", NormalizeCredentialID("  U@Example.COM "))
}
