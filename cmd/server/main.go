// Command github-mcp-server runs the MCP server with its OAuth front door.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
	ghoauth "golang.org/x/oauth2/github"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/config"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/crypto"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/github"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/limiter"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/metrics"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/migrate"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository/postgres"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/server/httpserver"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/server/mcpserver"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/service"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/worker/cleanup"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and starts the HTTP server with
// the MCP surface mounted behind session authentication.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	credRepo := postgres.NewCredentialRepo(db)
	csrfRepo := postgres.NewCsrfRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	auditRepo := postgres.NewAuditRepo(db)
	workflowRepo := postgres.NewWorkflowRepo(db)

	lim := limiter.NewPG(pool, func(endpoint string) limiter.EndpointLimit {
		l := cfg.LimitFor(endpoint)
		return limiter.EndpointLimit{Limit: l.Limit, Window: l.Window}
	})

	registry := prometheus.NewRegistry()
	m := metrics.NewCollector(registry)

	cipher, err := crypto.NewCipher(cfg.TokenCipherKey)
	if err != nil {
		logger.Fatal("token cipher", zap.Error(err))
	}

	// Services
	creds := service.NewCredentialStore(credRepo, cipher, cfg.MaxTokenAge)
	sessions := service.NewSessionManager(sessionRepo, cfg.SessionSigningKey, cfg.SessionTTL)
	csrf := service.NewCsrfManager(csrfRepo, cfg.CsrfTTL)
	audit := service.NewAuditLogger(auditRepo, logger).OnWriteError(m.RecordAuditWriteFailure)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		RedirectURL:  cfg.GitHub.RedirectURL,
		Scopes:       []string{"repo", "read:org", "project", "user:email"},
		Endpoint:     ghoauth.Endpoint,
	}

	auth := service.NewAuthService(oauthCfg,
		func(token string) service.ProfileAPI {
			return github.NewClient(cfg.GitHub.APIBaseURL, token).WithObserver(m.RecordGitHubCall)
		},
		userRepo, creds, sessions, csrf, audit)

	workflows := service.NewWorkflowService(workflowRepo, creds,
		func(token string) service.RepoAPI {
			return github.NewClient(cfg.GitHub.APIBaseURL, token).WithObserver(m.RecordGitHubCall)
		},
		cfg.GitHub.Org, logger)

	// Maintenance worker
	worker := cleanup.New(csrfRepo, sessionRepo, auditRepo, lim,
		cfg.AuditRetention, cfg.MaxWindow(), cfg.CleanupInterval, m, logger)
	go worker.Run(ctx)

	// Servers
	mcpSrv := mcpserver.New(workflows, lim, audit, m, logger, version)
	httpSrv := httpserver.New(cfg, logger, auth, sessions, m, registry, mcpSrv.Handler())

	if err := httpSrv.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
