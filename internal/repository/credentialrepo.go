package repository

import (
	"context"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// CredentialRepository stores encrypted OAuth tokens, one row per user.
type CredentialRepository interface {
	// Put upserts the credential row for c.UserID.
	Put(ctx context.Context, c *model.Credential) error
	// Get loads the credential row for a user.
	Get(ctx context.Context, userID int64) (*model.Credential, error)
	// Delete removes the credential row for a user; idempotent.
	Delete(ctx context.Context, userID int64) error
}
