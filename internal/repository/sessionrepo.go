package repository

import (
	"context"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// SessionRepository stores bearer sessions. The row is authoritative for
// expiry and revocation regardless of anything encoded in the token itself.
type SessionRepository interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s *model.Session) error
	// Touch updates last_used_at for a live session and returns its user ID.
	// ok is false when no live row matches (unknown or expired token).
	Touch(ctx context.Context, token string, now time.Time) (userID int64, ok bool, err error)
	// Get loads a session row by token regardless of expiry, so callers can
	// distinguish an expired session from an unknown one.
	Get(ctx context.Context, token string) (*model.Session, error)
	// Delete removes a session row; idempotent.
	Delete(ctx context.Context, token string) error
	// DeleteExpired purges sessions past their expiry. Returns rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// CountLive counts sessions not yet expired at now.
	CountLive(ctx context.Context, now time.Time) (int64, error)
}
