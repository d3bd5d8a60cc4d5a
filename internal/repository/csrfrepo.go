package repository

import (
	"context"
	"time"
)

// CsrfRepository stores single-use OAuth state tokens.
type CsrfRepository interface {
	// Insert stores a freshly issued token with its expiry.
	Insert(ctx context.Context, token string, expiresAt time.Time) error
	// Consume deletes the token if it exists and is still valid at now.
	// Returns false when the token is unknown, already used, or expired;
	// the delete is what makes reuse fail.
	Consume(ctx context.Context, token string, now time.Time) (bool, error)
	// DeleteExpired purges tokens past their expiry. Returns rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
