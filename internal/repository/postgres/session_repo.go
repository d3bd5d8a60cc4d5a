package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `
INSERT INTO sessions (id, session_token, user_id, ip_address, user_agent, expires_at, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.Token, s.UserID, s.IPAddress, s.UserAgent, s.ExpiresAt, s.LastUsedAt)
	if err != nil {
		return storageErr("create session", err)
	}
	return nil
}

// Touch updates last_used_at for a live session in one atomic statement and
// returns the bound user ID. ok is false when no live row matches.
func (r *SessionRepo) Touch(ctx context.Context, token string, now time.Time) (int64, bool, error) {
	const q = `
UPDATE sessions SET last_used_at=$2
WHERE session_token=$1 AND expires_at > $2
RETURNING user_id`
	var userID int64
	if err := r.db.Pool.QueryRow(ctx, q, token, now).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, storageErr("touch session", err)
	}
	return userID, true, nil
}

// Get loads a session row by token regardless of expiry.
func (r *SessionRepo) Get(ctx context.Context, token string) (*model.Session, error) {
	const q = `
SELECT id, session_token, user_id, ip_address, user_agent, expires_at, last_used_at, created_at
FROM sessions WHERE session_token=$1`
	row := r.db.Pool.QueryRow(ctx, q, token)
	var s model.Session
	if err := row.Scan(&s.ID, &s.Token, &s.UserID, &s.IPAddress, &s.UserAgent, &s.ExpiresAt, &s.LastUsedAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("get session", err)
	}
	return &s, nil
}

// Delete removes a session row; deleting a missing row is not an error.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	const q = `DELETE FROM sessions WHERE session_token=$1`
	if _, err := r.db.Pool.Exec(ctx, q, token); err != nil {
		return storageErr("delete session", err)
	}
	return nil
}

// DeleteExpired purges sessions past their expiry.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM sessions WHERE expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, storageErr("purge sessions", err)
	}
	return tag.RowsAffected(), nil
}

// CountLive counts sessions not yet expired at now.
func (r *SessionRepo) CountLive(ctx context.Context, now time.Time) (int64, error) {
	const q = `SELECT count(*) FROM sessions WHERE expires_at > $1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, now).Scan(&n); err != nil {
		return 0, storageErr("count sessions", err)
	}
	return n, nil
}
