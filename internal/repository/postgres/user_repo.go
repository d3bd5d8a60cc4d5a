package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Upsert inserts the user on first login or refreshes display fields on
// conflict with github_id.
func (r *UserRepo) Upsert(ctx context.Context, u *model.User) (*model.User, error) {
	const q = `
INSERT INTO users (github_id, username, name, email, avatar_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (github_id) DO UPDATE
SET username = EXCLUDED.username,
    name = EXCLUDED.name,
    email = EXCLUDED.email,
    avatar_url = EXCLUDED.avatar_url,
    updated_at = now()
RETURNING id, github_id, username, name, email, avatar_url, created_at, updated_at`
	row := r.db.Pool.QueryRow(ctx, q, u.GitHubID, u.Username, u.Name, u.Email, u.AvatarURL)
	var out model.User
	if err := row.Scan(&out.ID, &out.GitHubID, &out.Username, &out.Name, &out.Email, &out.AvatarURL, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, storageErr("upsert user", err)
	}
	return &out, nil
}

// GetByID selects a user by internal ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const q = `
SELECT id, github_id, username, name, email, avatar_url, created_at, updated_at
FROM users WHERE id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id), "get user")
}

// GetByGitHubID selects a user by GitHub ID.
func (r *UserRepo) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	const q = `
SELECT id, github_id, username, name, email, avatar_url, created_at, updated_at
FROM users WHERE github_id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, githubID), "get user by github id")
}

func (r *UserRepo) scanOne(row pgx.Row, op string) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.GitHubID, &u.Username, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr(op, err)
	}
	return &u, nil
}
