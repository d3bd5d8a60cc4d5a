// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// UserRepository provides access to the external identity anchor.
type UserRepository interface {
	// Upsert inserts a user on first login or refreshes display fields on
	// subsequent logins, keyed by github_id. Returns the stored row.
	Upsert(ctx context.Context, u *model.User) (*model.User, error)
	// GetByID loads a user by internal ID.
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// GetByGitHubID loads a user by GitHub ID.
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
}
