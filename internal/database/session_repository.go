package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
)

type SessionRepo struct {
	db *DB
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create stores a new active session. Any previous active session for the
// same user and app is deactivated in the same transaction, so the partial
// unique index on (user_id, app_slug) holds.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	encToken, err := r.db.encryptToken(s.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = $1 AND app_slug = $2 AND is_active
	`, s.UserID, s.AppSlug); err != nil {
		return fmt.Errorf("failed to deactivate previous session: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO sessions (user_id, app_slug, is_active, access_token, token_type, created_at, last_accessed, expires_at)
		VALUES ($1, $2, TRUE, $3, $4, NOW(), NOW(), $5)
		RETURNING id, created_at, last_accessed
	`, s.UserID, s.AppSlug, encToken, s.TokenType, s.ExpiresAt).Scan(&s.ID, &s.CreatedAt, &s.LastAccessed)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.IsActive = true
	return nil
}

func (r *SessionRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Session, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, app_slug, is_active, access_token, token_type, created_at, last_accessed, expires_at
		FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at > NOW()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.AppSlug, &s.IsActive, &s.AccessToken,
			&s.TokenType, &s.CreatedAt, &s.LastAccessed, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.AccessToken, err = r.db.decryptToken(s.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepo) HasActive(ctx context.Context, userID uuid.UUID, appSlug string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE user_id = $1 AND app_slug = $2 AND is_active AND expires_at > NOW()
		)
	`, userID, appSlug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

func (r *SessionRepo) Deactivate(ctx context.Context, userID uuid.UUID, appSlug string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, last_accessed = NOW()
		WHERE user_id = $1 AND app_slug = $2 AND is_active
	`, userID, appSlug)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
