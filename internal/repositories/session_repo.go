package repositories

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jackc/pgx/v5"

	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
)

var sessionColumns = []string{
	"id", "user_id", "source_address", "auth_token_id", "state", "started_at", "last_activity_at",
}

// SessionRepository is the Postgres-backed session store
type SessionRepository struct {
	db      database.Querier
	builder sq.StatementBuilderType
}

// NewSessionRepository creates a SessionRepository over db, which may be a pool or a transaction
func NewSessionRepository(db database.Querier) *SessionRepository {
	return &SessionRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func scanSession(scanner rowScanner) (*models.Session, error) {
	var (
		s       models.Session
		tokenID *string
		state   string
	)
	if err := scanner.Scan(&s.ID, &s.UserID, &s.SourceAddress, &tokenID, &state, &s.StartedAt, &s.LastActivityAt); err != nil {
		return nil, err
	}
	if tokenID != nil {
		s.AuthTokenID = *tokenID
	}
	s.State = models.SessionState(state)
	return &s, nil
}

// nullableToken stores orphaned sessions with a NULL token so the unique
// constraint only applies to bound sessions
func nullableToken(tokenID string) any {
	if tokenID == "" {
		return nil
	}
	return tokenID
}

// Save inserts the session or overwrites the stored copy with the same ID
func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	return r.save(ctx, r.db, session)
}

func (r *SessionRepository) save(ctx context.Context, q database.Querier, session *models.Session) error {
	query, args, err := r.builder.Insert("sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.SourceAddress,
			nullableToken(session.AuthTokenID),
			string(session.State),
			session.StartedAt,
			session.LastActivityAt,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			source_address = EXCLUDED.source_address,
			auth_token_id = EXCLUDED.auth_token_id,
			state = EXCLUDED.state,
			last_activity_at = EXCLUDED.last_activity_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session insert: %w", err)
	}

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save session: %w", database.MapPostgresError(err))
	}
	return nil
}

// Touch refreshes last activity of an active session. Returns
// models.ErrNotFound when the session no longer exists.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	query, args, err := r.builder.Update("sessions").
		Set("last_activity_at", at).
		Where(sq.Eq{"id": sessionID, "state": string(models.SessionStateActive)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session touch: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FindByToken returns the session bound to authTokenID, or nil when there is none
func (r *SessionRepository) FindByToken(ctx context.Context, authTokenID string) (*models.Session, error) {
	sessions, err := r.selectSessions(ctx, sq.Eq{"auth_token_id": authTokenID})
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// FindActiveByUser returns the user's ACTIVE sessions, oldest first
func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	return r.selectSessions(ctx, sq.Eq{"user_id": userID, "state": string(models.SessionStateActive)})
}

// FindAll returns every stored session, oldest first
func (r *SessionRepository) FindAll(ctx context.Context) ([]*models.Session, error) {
	return r.selectSessions(ctx, nil)
}

// CountActiveByUser returns the number of ACTIVE sessions of the user
func (r *SessionRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	query, args, err := r.builder.Select("COUNT(*)").
		From("sessions").
		Where(sq.Eq{"user_id": userID, "state": string(models.SessionStateActive)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build session count: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", database.MapPostgresError(err))
	}
	return count, nil
}

// Delete removes a session. A missing row is not an error.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	query, args, err := r.builder.Delete("sessions").Where(sq.Eq{"id": sessionID}).ToSql()
	if err != nil {
		return fmt.Errorf("build session delete: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete session: %w", database.MapPostgresError(err))
	}
	return nil
}

// DeleteAllForUser removes every session of the user and returns how many were removed
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.deleteAllForUser(ctx, r.db, userID)
}

func (r *SessionRepository) deleteAllForUser(ctx context.Context, q database.Querier, userID string) (int64, error) {
	query, args, err := r.builder.Delete("sessions").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build session delete: %w", err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// ReplaceAllForUser deletes every session of session.UserID and saves
// session in one transaction. Returns the number of sessions removed.
func (r *SessionRepository) ReplaceAllForUser(ctx context.Context, session *models.Session) (int64, error) {
	beginner, ok := r.db.(database.Beginner)
	if !ok {
		removed, err := r.deleteAllForUser(ctx, r.db, session.UserID)
		if err != nil {
			return 0, err
		}
		return removed, r.save(ctx, r.db, session)
	}

	var removed int64
	err := database.WithTransaction(ctx, beginner, func(tx pgx.Tx) error {
		var err error
		if removed, err = r.deleteAllForUser(ctx, tx, session.UserID); err != nil {
			return err
		}
		return r.save(ctx, tx, session)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *SessionRepository) selectSessions(ctx context.Context, where sq.Sqlizer) ([]*models.Session, error) {
	builder := r.builder.Select(sessionColumns...).From("sessions").OrderBy("started_at", "id")
	if where != nil {
		builder = builder.Where(where)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session select: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
