package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
)

const userColumns = `id, email, password_hash, name, role, status, email_verified, created_at, updated_at`

type UserRepository struct {
	db database.Querier
}

func NewUserRepository(db database.Querier) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.Role, &user.Status, &user.EmailVerified,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.QueryRow(ctx, query, id))
}

// GetByEmail matches case-insensitively. Returns models.ErrNotFound when absent.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUserRow(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, name, role, status, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	role := user.Role
	if role == "" {
		role = models.RoleUser
	}
	status := user.Status
	if status == "" {
		status = models.UserStatusActive
	}

	created, err := scanUserRow(r.db.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.PasswordHash,
		user.Name,
		role,
		status,
		user.EmailVerified,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// DeleteUnconfirmedBefore removes accounts that never verified their email
// and were created before cutoff. Their sessions cascade.
func (r *UserRepository) DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM users WHERE email_verified = FALSE AND created_at < $1`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unconfirmed users: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
