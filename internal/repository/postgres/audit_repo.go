package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL. Rows are append-only:
// no update statement exists in this repository.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit log repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Insert appends one immutable entry.
func (r *AuditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	var meta []byte
	if e.Metadata != nil {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return storageErr("encode audit metadata", err)
		}
	}
	const q = `
INSERT INTO audit_logs (user_id, action, resource, ip_address, user_agent, success, error_message, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q, e.UserID, e.Action, e.Resource, e.IPAddress, e.UserAgent, e.Success, e.ErrorMessage, meta)
	if err != nil {
		return storageErr("insert audit entry", err)
	}
	return nil
}

// DeleteOlderThan purges entries created before cutoff (retention batch).
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM audit_logs WHERE created_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, storageErr("purge audit entries", err)
	}
	return tag.RowsAffected(), nil
}
