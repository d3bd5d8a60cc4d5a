package service

import (
	"context"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/crypto"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
)

// CsrfManager issues single-use OAuth state tokens. A token validates at
// most once; validation consumes it.
type CsrfManager struct {
	repo repository.CsrfRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewCsrfManager constructs a CsrfManager with the given token lifetime.
func NewCsrfManager(repo repository.CsrfRepository, ttl time.Duration) *CsrfManager {
	return &CsrfManager{repo: repo, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Test hook.
func (m *CsrfManager) WithClock(now func() time.Time) *CsrfManager {
	m.now = now
	return m
}

// Issue generates and stores a fresh state token.
func (m *CsrfManager) Issue(ctx context.Context) (string, error) {
	token, err := crypto.RandToken()
	if err != nil {
		return "", err
	}
	if err := m.repo.Insert(ctx, token, m.now().Add(m.ttl)); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateAndConsume accepts a token exactly once. Unknown, already used and
// expired tokens all return errs.ErrInvalidOrExpired; the caller cannot tell
// which, and does not need to.
func (m *CsrfManager) ValidateAndConsume(ctx context.Context, token string) error {
	ok, err := m.repo.Consume(ctx, token, m.now())
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrInvalidOrExpired
	}
	return nil
}
