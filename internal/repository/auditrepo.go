package repository

import (
	"context"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

// AuditRepository appends immutable security-event rows. Rows are never
// updated, only inserted and (past retention) deleted.
type AuditRepository interface {
	// Insert appends one entry.
	Insert(ctx context.Context, e *model.AuditEntry) error
	// DeleteOlderThan purges entries created before cutoff. Returns rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
