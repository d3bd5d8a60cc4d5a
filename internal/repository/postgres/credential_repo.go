package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// Put upserts the single credential row for c.UserID. Uniqueness on user_id
// guarantees at most one live credential per user.
func (r *CredentialRepo) Put(ctx context.Context, c *model.Credential) error {
	const q = `
INSERT INTO github_tokens (user_id, access_token_enc, refresh_token_enc, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET access_token_enc = EXCLUDED.access_token_enc,
    refresh_token_enc = EXCLUDED.refresh_token_enc,
    expires_at = EXCLUDED.expires_at,
    updated_at = now()`
	if _, err := r.db.Pool.Exec(ctx, q, c.UserID, c.AccessTokenEnc, c.RefreshTokenEnc, c.ExpiresAt); err != nil {
		return storageErr("put credential", err)
	}
	return nil
}

// Get loads the credential row for a user.
func (r *CredentialRepo) Get(ctx context.Context, userID int64) (*model.Credential, error) {
	const q = `
SELECT user_id, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at
FROM github_tokens WHERE user_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, userID)
	var c model.Credential
	if err := row.Scan(&c.UserID, &c.AccessTokenEnc, &c.RefreshTokenEnc, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("get credential", err)
	}
	return &c, nil
}

// Delete removes the credential row for a user; deleting a missing row is not
// an error.
func (r *CredentialRepo) Delete(ctx context.Context, userID int64) error {
	const q = `DELETE FROM github_tokens WHERE user_id=$1`
	if _, err := r.db.Pool.Exec(ctx, q, userID); err != nil {
		return storageErr("delete credential", err)
	}
	return nil
}
