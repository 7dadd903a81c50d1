package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/domain"
)

type sessionRepository struct {
	db db.DBTX
}

// NewSessionRepository creates a repository for login sessions
func NewSessionRepository(exec db.DBTX) SessionRepository {
	return &sessionRepository{db: exec}
}

func (r *sessionRepository) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		session.Token, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return domain.Session{}, translateError(err, "create session")
	}
	return session, nil
}

func (r *sessionRepository) Get(ctx context.Context, token uuid.UUID) (domain.Session, error) {
	var session domain.Session
	err := r.db.QueryRow(ctx,
		`SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = $1`, token,
	).Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		return domain.Session{}, translateError(err, "get session")
	}
	return session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, token uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
