package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// SessionManager issues and validates bearer session tokens. Tokens are
// signed HS256 JWTs, but the database row is authoritative: revocation and
// expiry are decided by the row, never by the token alone.
type SessionManager struct {
	sessions repository.SessionRepository
	signKey  []byte
	ttl      time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

// NewSessionManager constructs a SessionManager signing with signKey.
func NewSessionManager(sessions repository.SessionRepository, signKey []byte, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		signKey:  signKey,
		ttl:      ttl,
		// Claim validation is skipped on purpose: the sessions row decides
		// expiry, so a token past its embedded exp must still map to
		// ErrExpired rather than a parse failure.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// Create issues a new session for userID and persists it.
func (m *SessionManager) Create(ctx context.Context, userID int64, meta model.ClientMeta) (*model.Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := m.now()
	exp := now.Add(m.ttl)

	claims := jwt.RegisteredClaims{
		ID:        id.String(),
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signKey)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	s := &model.Session{
		ID:         id,
		Token:      signed,
		UserID:     userID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		ExpiresAt:  exp,
		LastUsedAt: now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks a bearer token and returns the session's user ID. A live
// session has its last_used_at bumped. Returns errs.ErrUnauthenticated for
// forged or unknown tokens and errs.ErrExpired for known-but-expired ones.
func (m *SessionManager) Validate(ctx context.Context, token string) (int64, error) {
	if _, err := m.parser.Parse(token, func(*jwt.Token) (any, error) {
		return m.signKey, nil
	}); err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrUnauthenticated, err)
	}

	userID, ok, err := m.sessions.Touch(ctx, token, m.now())
	if err != nil {
		return 0, err
	}
	if ok {
		return userID, nil
	}

	// Signature checked out but no live row matched: distinguish revoked
	// (row gone) from expired (row present, past expiry).
	if _, err := m.sessions.Get(ctx, token); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return 0, errs.ErrUnauthenticated
		}
		return 0, err
	}
	return 0, errs.ErrExpired
}

// Revoke deletes the session row, invalidating the token immediately.
// Unknown tokens are a no-op.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.sessions.Delete(ctx, token)
}
