package sessions

import "context"

// Repo persists sessions keyed by session ID.
// Get returns errors.ErrSessionNotFound for unknown or expired sessions.
type Repo interface {
	Upsert(ctx context.Context, session *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
