// Package httpserver serves the OAuth endpoints, health and metrics, and
// mounts the MCP surface behind session authentication.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/config"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/metrics"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/server/authctx"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Server is the HTTP front of the MCP server.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	auth     *service.AuthService
	sessions *service.SessionManager
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer

	authLimiter *ipLimiter
	router      chi.Router
}

// New wires the router. mcpHandler is mounted at /mcp behind session
// authentication.
func New(cfg *config.Config, log *zap.Logger, auth *service.AuthService,
	sessions *service.SessionManager, m *metrics.Collector,
	gatherer prometheus.Gatherer, mcpHandler http.Handler) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log,
		auth:        auth,
		sessions:    sessions,
		metrics:     m,
		gatherer:    gatherer,
		authLimiter: newIPLimiter(cfg.AuthRequestsPerMinute),
	}

	r := chi.NewRouter()
	r.Use(Recover(log))
	r.Use(Logging(log, m, cfg.TrustProxyHeaders))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitAuth)
		r.Get("/auth/github", s.handleLoginStart)
		r.Get("/auth/github/callback", s.handleCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth)
		r.Post("/auth/logout", s.handleLogout)
		r.Mount("/mcp", mcpHandler)
	})

	s.router = r
	return s
}

// Router returns the configured handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLoginStart issues CSRF state and redirects to the provider.
func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	url, err := s.auth.StartLogin(r.Context(), clientMeta(r, s.cfg.TrustProxyHeaders))
	if err != nil {
		s.log.Error("login start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleCallback finishes the OAuth flow and returns the bearer session.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	sess, user, err := s.auth.CompleteLogin(r.Context(), code, state, clientMeta(r, s.cfg.TrustProxyHeaders))
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrInvalidOrExpired):
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	case errors.Is(err, errs.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authorization code rejected")
		return
	default:
		s.log.Error("login callback failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User: loginUser{
			ID:        user.ID,
			Login:     user.Username,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
		},
	})
}

// handleLogout revokes the presented session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, _ := authctx.UserID(r.Context())
	if err := s.auth.Logout(r.Context(), bearerToken(r), userID, authctx.Meta(r.Context())); err != nil {
		s.log.Error("logout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      loginUser `json:"user"`
}

type loginUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
