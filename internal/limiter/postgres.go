package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
)

// PG is a PostgreSQL-backed fixed-window limiter. The upsert-increment runs
// as one statement, so concurrent requests for the same key serialize on the
// row and never both pass on the last remaining slot.
type PG struct {
	pool     pgxQuerier
	limitFor func(endpoint string) EndpointLimit
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter. limitFor maps an endpoint to
// its quota; distinct endpoints may carry distinct limits and window sizes.
func NewPG(pool *pgxpool.Pool, limitFor func(endpoint string) EndpointLimit) *PG {
	return NewPGWithQuerier(pool, limitFor)
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier
// (used by tests).
func NewPGWithQuerier(q pgxQuerier, limitFor func(endpoint string) EndpointLimit) *PG {
	return &PG{pool: q, limitFor: limitFor, now: time.Now}
}

// WithClock overrides the wall clock; tests use this to pin windows.
func (l *PG) WithClock(now func() time.Time) *PG {
	l.now = now
	return l
}

// Allow finds or creates the counter row for the current window, increments it
// atomically, and rejects when the count exceeds the endpoint's limit.
func (l *PG) Allow(ctx context.Context, addr, endpoint string) error {
	lim := l.limitFor(endpoint)
	windowStart := WindowStart(l.now(), lim.Window)

	const q = `
INSERT INTO rate_limits (ip_address, endpoint, window_start, request_count)
VALUES ($1, $2, $3, 1)
ON CONFLICT (ip_address, endpoint, window_start)
DO UPDATE SET request_count = rate_limits.request_count + 1
RETURNING request_count`
	var count int
	if err := l.pool.QueryRow(ctx, q, addr, endpoint, windowStart).Scan(&count); err != nil {
		return fmt.Errorf("rate limit increment: %w: %w", errs.ErrStorage, err)
	}
	if count > lim.Limit {
		return errs.ErrRateLimited
	}
	return nil
}

// PurgeStale removes counter rows whose window started before cutoff. Elapsed
// windows are never read again, so this only reclaims space.
func (l *PG) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM rate_limits WHERE window_start < $1`
	tag, err := l.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w: %w", errs.ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}
