package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// WorkflowRepo implements WorkflowRepository using PostgreSQL.
type WorkflowRepo struct{ db *DB }

// NewWorkflowRepo constructs a workflow state repository.
func NewWorkflowRepo(db *DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

// Get loads the state blob for (user, repository, branch, type).
func (r *WorkflowRepo) Get(ctx context.Context, userID int64, repository, branch string, wtype model.WorkflowType) (*model.WorkflowState, error) {
	const q = `
SELECT user_id, repository, branch, workflow_type, state, created_at, updated_at
FROM workflow_states
WHERE user_id=$1 AND repository=$2 AND branch=$3 AND workflow_type=$4`
	row := r.db.Pool.QueryRow(ctx, q, userID, repository, branch, string(wtype))
	var (
		ws    model.WorkflowState
		wtStr string
		raw   []byte
	)
	if err := row.Scan(&ws.UserID, &ws.Repository, &ws.Branch, &wtStr, &raw, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("get workflow state", err)
	}
	ws.Type = model.WorkflowType(wtStr)
	if err := json.Unmarshal(raw, &ws.State); err != nil {
		return nil, storageErr("decode workflow state", err)
	}
	return &ws, nil
}

// Upsert stores the blob for the key. Last writer wins: there is no version
// guard on this row.
func (r *WorkflowRepo) Upsert(ctx context.Context, ws *model.WorkflowState) error {
	raw, err := json.Marshal(ws.State)
	if err != nil {
		return storageErr("encode workflow state", err)
	}
	const q = `
INSERT INTO workflow_states (user_id, repository, branch, workflow_type, state)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, repository, branch, workflow_type) DO UPDATE
SET state = EXCLUDED.state,
    updated_at = now()`
	if _, err := r.db.Pool.Exec(ctx, q, ws.UserID, ws.Repository, ws.Branch, string(ws.Type), raw); err != nil {
		return storageErr("upsert workflow state", err)
	}
	return nil
}
