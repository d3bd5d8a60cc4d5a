package service

import (
	"context"
	"fmt"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/github"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
	"golang.org/x/oauth2"
)

// Audit action names for the login flow.
const (
	actionLoginStart    = "oauth_login_start"
	actionLoginComplete = "oauth_login_complete"
	actionLogout        = "logout"
)

// Exchanger is the OAuth 2.0 authorization-code surface the login flow uses.
// *oauth2.Config satisfies it.
type Exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ProfileAPI is the slice of the GitHub API the login flow needs.
type ProfileAPI interface {
	AuthenticatedUser(ctx context.Context) (*github.User, error)
}

// ProfileAPIFactory builds a ProfileAPI bound to an access token.
type ProfileAPIFactory func(accessToken string) ProfileAPI

// AuthService drives the GitHub OAuth login flow and session lifecycle.
type AuthService struct {
	oauth    Exchanger
	ghFor    ProfileAPIFactory
	users    repository.UserRepository
	creds    *CredentialStore
	sessions *SessionManager
	csrf     *CsrfManager
	audit    *AuditLogger
}

// NewAuthService constructs an AuthService with required dependencies.
func NewAuthService(oauth Exchanger, ghFor ProfileAPIFactory, users repository.UserRepository,
	creds *CredentialStore, sessions *SessionManager, csrf *CsrfManager, audit *AuditLogger) *AuthService {
	return &AuthService{
		oauth:    oauth,
		ghFor:    ghFor,
		users:    users,
		creds:    creds,
		sessions: sessions,
		csrf:     csrf,
		audit:    audit,
	}
}

// StartLogin issues a CSRF state token and returns the provider authorize URL
// to redirect the client to.
func (s *AuthService) StartLogin(ctx context.Context, meta model.ClientMeta) (string, error) {
	state, err := s.csrf.Issue(ctx)
	if err != nil {
		s.audit.Failure(ctx, nil, actionLoginStart, "oauth", meta, err.Error())
		return "", err
	}
	s.audit.Success(ctx, nil, actionLoginStart, "oauth", meta, nil)
	return s.oauth.AuthCodeURL(state), nil
}

// CompleteLogin handles the OAuth callback: validates state, exchanges the
// code, upserts the user, stores the encrypted tokens and issues a session.
func (s *AuthService) CompleteLogin(ctx context.Context, code, state string, meta model.ClientMeta) (*model.Session, *model.User, error) {
	if err := s.csrf.ValidateAndConsume(ctx, state); err != nil {
		s.audit.Failure(ctx, nil, actionLoginComplete, "oauth", meta, "state validation failed")
		return nil, nil, err
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.audit.Failure(ctx, nil, actionLoginComplete, "oauth", meta, "code exchange failed")
		return nil, nil, fmt.Errorf("%w: exchange: %w", errs.ErrUnauthenticated, err)
	}

	profile, err := s.ghFor(tok.AccessToken).AuthenticatedUser(ctx)
	if err != nil {
		s.audit.Failure(ctx, nil, actionLoginComplete, "oauth", meta, "profile fetch failed")
		return nil, nil, fmt.Errorf("fetch profile: %w", err)
	}

	u, err := s.users.Upsert(ctx, &model.User{
		GitHubID:  profile.ID,
		Username:  profile.Login,
		Name:      profile.Name,
		Email:     profile.Email,
		AvatarURL: profile.AvatarURL,
	})
	if err != nil {
		s.audit.Failure(ctx, nil, actionLoginComplete, "oauth", meta, "user upsert failed")
		return nil, nil, err
	}

	if err := s.creds.Put(ctx, u.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		s.audit.Failure(ctx, &u.ID, actionLoginComplete, "oauth", meta, "credential store failed")
		return nil, nil, err
	}

	sess, err := s.sessions.Create(ctx, u.ID, meta)
	if err != nil {
		s.audit.Failure(ctx, &u.ID, actionLoginComplete, "oauth", meta, "session create failed")
		return nil, nil, err
	}

	s.audit.Success(ctx, &u.ID, actionLoginComplete, "oauth", meta, model.Document{
		"github_login": u.Username,
	})
	return sess, u, nil
}

// Logout revokes the bearer session. Unknown tokens succeed silently.
func (s *AuthService) Logout(ctx context.Context, token string, userID int64, meta model.ClientMeta) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	s.audit.Success(ctx, &userID, actionLogout, "session", meta, nil)
	return nil
}
