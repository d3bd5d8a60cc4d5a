package service

import (
	"context"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
	"go.uber.org/zap"
)

// AuditLogger appends security events to the immutable audit trail. Recording
// never fails the operation being audited: a write error is logged and
// swallowed.
type AuditLogger struct {
	repo repository.AuditRepository
	log  *zap.Logger

	// onError is invoked after a failed write, for the failure counter.
	onError func()
}

// NewAuditLogger constructs an AuditLogger.
func NewAuditLogger(repo repository.AuditRepository, log *zap.Logger) *AuditLogger {
	return &AuditLogger{repo: repo, log: log, onError: func() {}}
}

// OnWriteError registers a callback fired when an audit write fails.
func (l *AuditLogger) OnWriteError(fn func()) *AuditLogger {
	l.onError = fn
	return l
}

// Record appends one entry, best effort.
func (l *AuditLogger) Record(ctx context.Context, e model.AuditEntry) {
	if err := l.repo.Insert(ctx, &e); err != nil {
		l.onError()
		l.log.Error("audit write failed",
			zap.String("action", e.Action),
			zap.String("resource", e.Resource),
			zap.Error(err))
	}
}

// Success records a successful action.
func (l *AuditLogger) Success(ctx context.Context, userID *int64, action, resource string, meta model.ClientMeta, md model.Document) {
	l.Record(ctx, model.AuditEntry{
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
		Metadata:  md,
	})
}

// Failure records a failed action with its error message.
func (l *AuditLogger) Failure(ctx context.Context, userID *int64, action, resource string, meta model.ClientMeta, errMsg string) {
	l.Record(ctx, model.AuditEntry{
		UserID:       userID,
		Action:       action,
		Resource:     resource,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Success:      false,
		ErrorMessage: errMsg,
	})
}
