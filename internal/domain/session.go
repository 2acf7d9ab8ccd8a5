package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session pairs a user with a connected app. A user has at most one active
// session per app slug; the user's connected-app set is derived from the
// distinct slugs of their active sessions.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AppSlug      string
	IsActive     bool
	AccessToken  string
	TokenType    string
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
}

// SessionRepository persists app connections.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	HasActive(ctx context.Context, userID uuid.UUID, appSlug string) (bool, error)
	// Deactivate marks the user's session for appSlug inactive. Returns
	// ErrSessionNotFound if no active session exists.
	Deactivate(ctx context.Context, userID uuid.UUID, appSlug string) error
	// DeleteExpired removes sessions past their expiry and returns how many
	// were deleted.
	DeleteExpired(ctx context.Context) (int64, error)
}

// ConnectedSlugs reduces a session list to the set of distinct app slugs
// with an active session.
func ConnectedSlugs(sessions []Session) map[string]struct{} {
	out := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		if s.IsActive {
			out[s.AppSlug] = struct{}{}
		}
	}
	return out
}
