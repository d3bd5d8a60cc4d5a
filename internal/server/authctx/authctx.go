// Package authctx carries the authenticated user and request metadata through
// request contexts, shared by the HTTP and MCP surfaces.
package authctx

import (
	"context"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	metaKey
)

// WithUserID attaches the authenticated user's ID to the context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID extracts the authenticated user's ID. ok is false when the request
// carries no authenticated user.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithMeta attaches client request metadata to the context.
func WithMeta(ctx context.Context, meta model.ClientMeta) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

// Meta extracts client request metadata; zero value when absent.
func Meta(ctx context.Context) model.ClientMeta {
	meta, _ := ctx.Value(metaKey).(model.ClientMeta)
	return meta
}
