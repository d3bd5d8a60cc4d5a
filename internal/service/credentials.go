// Package service contains application services for authentication, session
// management, auditing and the command workflows.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/crypto"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
)

// CredentialStore encrypts OAuth tokens before they reach the database and
// decrypts them just in time for API calls. Plaintext tokens never touch
// storage.
type CredentialStore struct {
	repo   repository.CredentialRepository
	cipher *crypto.Cipher
	// maxAge bounds credential lifetime when the provider reports no expiry.
	maxAge time.Duration
	now    func() time.Time
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(repo repository.CredentialRepository, cipher *crypto.Cipher, maxAge time.Duration) *CredentialStore {
	return &CredentialStore{repo: repo, cipher: cipher, maxAge: maxAge, now: time.Now}
}

// WithClock replaces the time source. Test hook.
func (s *CredentialStore) WithClock(now func() time.Time) *CredentialStore {
	s.now = now
	return s
}

// Put seals the tokens and upserts the user's credential row. A zero
// expiresAt falls back to now+maxAge so tokens without a provider expiry
// still age out.
func (s *CredentialStore) Put(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	accEnc, err := s.cipher.Seal([]byte(accessToken))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	var refEnc []byte
	if refreshToken != "" {
		if refEnc, err = s.cipher.Seal([]byte(refreshToken)); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(s.maxAge)
	}
	return s.repo.Put(ctx, &model.Credential{
		UserID:          userID,
		AccessTokenEnc:  accEnc,
		RefreshTokenEnc: refEnc,
		ExpiresAt:       expiresAt,
	})
}

// Get loads and decrypts the user's credential. When the credential is past
// its expiry the decrypted value is still returned together with
// errs.ErrExpired, so callers holding a refresh token can renew it.
func (s *CredentialStore) Get(ctx context.Context, userID int64) (*model.DecryptedCredential, error) {
	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	acc, err := s.cipher.Open(c.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("open access token: %w: %w", errs.ErrStorage, err)
	}
	var ref []byte
	if len(c.RefreshTokenEnc) > 0 {
		if ref, err = s.cipher.Open(c.RefreshTokenEnc); err != nil {
			return nil, fmt.Errorf("open refresh token: %w: %w", errs.ErrStorage, err)
		}
	}
	dec := &model.DecryptedCredential{
		AccessToken:  string(acc),
		RefreshToken: string(ref),
		ExpiresAt:    c.ExpiresAt,
	}
	if s.now().After(c.ExpiresAt) {
		return dec, errs.ErrExpired
	}
	return dec, nil
}

// Delete removes the user's credential row; idempotent.
func (s *CredentialStore) Delete(ctx context.Context, userID int64) error {
	return s.repo.Delete(ctx, userID)
}
