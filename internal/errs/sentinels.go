// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates the entity exists but its validity window has passed.
	ErrExpired = errors.New("expired")

	// ErrInvalidOrExpired indicates a single-use token that is unknown, already
	// consumed, or past its expiry. Used for the OAuth CSRF state.
	ErrInvalidOrExpired = errors.New("invalid or expired token")

	// ErrUnauthenticated indicates a missing or unknown bearer credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRateLimited indicates the request quota for the current window is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrStorage indicates the underlying store failed or timed out; the outcome is
	// unknown, as opposed to a definite business "no".
	ErrStorage = errors.New("storage error")
)
