package repository

import (
	"context"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// WorkflowRepository stores opaque per-workflow state blobs, one row per
// (user, repository, branch, workflow type). Writes are last-writer-wins.
type WorkflowRepository interface {
	// Get loads the current state blob for the key.
	Get(ctx context.Context, userID int64, repository, branch string, wtype model.WorkflowType) (*model.WorkflowState, error)
	// Upsert stores the blob for the key, replacing any previous value.
	Upsert(ctx context.Context, ws *model.WorkflowState) error
}
