package postgres

import (
	"context"
	"time"
)

// CsrfRepo implements CsrfRepository using PostgreSQL.
type CsrfRepo struct{ db *DB }

// NewCsrfRepo constructs a CSRF token repository.
func NewCsrfRepo(db *DB) *CsrfRepo { return &CsrfRepo{db: db} }

// Insert stores a freshly issued token.
func (r *CsrfRepo) Insert(ctx context.Context, token string, expiresAt time.Time) error {
	const q = `INSERT INTO csrf_tokens (token, expires_at) VALUES ($1, $2)`
	if _, err := r.db.Pool.Exec(ctx, q, token, expiresAt); err != nil {
		return storageErr("insert csrf token", err)
	}
	return nil
}

// Consume deletes the token if still valid at now. The conditional delete is
// a single atomic statement, so two concurrent consumers of the same token
// cannot both succeed.
func (r *CsrfRepo) Consume(ctx context.Context, token string, now time.Time) (bool, error) {
	const q = `DELETE FROM csrf_tokens WHERE token=$1 AND expires_at > $2`
	tag, err := r.db.Pool.Exec(ctx, q, token, now)
	if err != nil {
		return false, storageErr("consume csrf token", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired purges tokens past their expiry.
func (r *CsrfRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM csrf_tokens WHERE expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, storageErr("purge csrf tokens", err)
	}
	return tag.RowsAffected(), nil
}
