// Package limiter defines interfaces and implementations for fixed-window
// request rate limiting keyed by (client address, endpoint).
package limiter

import (
	"context"
	"time"
)

// Limiter enforces per-endpoint request quotas in fixed time windows.
type Limiter interface {
	// Allow counts one request for (addr, endpoint) in the current window and
	// returns errs.ErrRateLimited when the endpoint's quota is exhausted.
	// Callers must not apply the request's side effects on a limited result.
	Allow(ctx context.Context, addr, endpoint string) error
}

// EndpointLimit is the quota for one endpoint: at most Limit requests per
// non-overlapping Window.
type EndpointLimit struct {
	Limit  int
	Window time.Duration
}

// WindowStart buckets now into the fixed window containing it.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
