// Package mcpserver exposes the command workflows as MCP tools over
// streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/limiter"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/metrics"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/server/authctx"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const serverName = "github-mcp-server"

// Server registers the workflow tools on an MCP server. Every tool call is
// rate limited, executed and audited, in that order.
type Server struct {
	workflows *service.WorkflowService
	lim       limiter.Limiter
	audit     *service.AuditLogger
	metrics   *metrics.Collector
	log       *zap.Logger

	mcp  *server.MCPServer
	http *server.StreamableHTTPServer
}

// New constructs the MCP server and registers its tools.
func New(workflows *service.WorkflowService, lim limiter.Limiter, audit *service.AuditLogger,
	m *metrics.Collector, log *zap.Logger, version string) *Server {
	s := &Server{
		workflows: workflows,
		lim:       lim,
		audit:     audit,
		metrics:   m,
		log:       log,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	s.http = server.NewStreamableHTTPServer(s.mcp)
	return s
}

// Handler returns the streamable HTTP handler to mount behind session
// authentication.
func (s *Server) Handler() http.Handler {
	return s.http
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("push",
		mcp.WithDescription("Push workflow: ensure an open pull request exists for a feature branch, optionally creating one"),
		mcp.WithString("repository",
			mcp.Required(),
			mcp.Description("Target repository as owner/repo"),
		),
		mcp.WithString("branch",
			mcp.Required(),
			mcp.Description("Feature branch that was pushed"),
		),
		mcp.WithString("title",
			mcp.Description("Pull request title, defaults to the branch name"),
		),
		mcp.WithString("body",
			mcp.Description("Pull request body"),
		),
		mcp.WithString("base_branch",
			mcp.Description("Base branch for a new pull request, defaults to main"),
		),
		mcp.WithBoolean("create_pr",
			mcp.Description("Create a draft pull request when none is open for the branch"),
		),
		mcp.WithBoolean("ready_for_review",
			mcp.Description("Mark the branch pull request ready for review"),
		),
	), s.handle("push", s.handlePush))

	s.mcp.AddTool(mcp.NewTool("scan_tasks",
		mcp.WithDescription("Scan the organization project board and group tasks by status"),
		mcp.WithNumber("project_number",
			mcp.Required(),
			mcp.Description("Projects v2 board number"),
		),
		mcp.WithString("status",
			mcp.Description("Only return tasks with this status"),
		),
	), s.handle("scan_tasks", s.handleScanTasks))

	s.mcp.AddTool(mcp.NewTool("merge",
		mcp.WithDescription("Merge workflow: merge the open pull request for a feature branch"),
		mcp.WithString("repository",
			mcp.Required(),
			mcp.Description("Target repository as owner/repo"),
		),
		mcp.WithString("branch",
			mcp.Required(),
			mcp.Description("Feature branch to merge"),
		),
		mcp.WithBoolean("delete_branch",
			mcp.Description("Delete the remote branch after merging, defaults to true"),
		),
	), s.handle("merge", s.handleMerge))

	s.mcp.AddTool(mcp.NewTool("workflow_status",
		mcp.WithDescription("Read the tracked state of a workflow for a repository and branch"),
		mcp.WithString("repository",
			mcp.Required(),
			mcp.Description("Repository as owner/repo"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch the workflow ran on"),
		),
		mcp.WithString("workflow_type",
			mcp.Required(),
			mcp.Description("One of push, scan_tasks, merge"),
		),
	), s.handle("workflow_status", s.handleStatus))
}

type toolFunc func(ctx context.Context, userID int64, request mcp.CallToolRequest) (model.Document, error)

// handle wraps a tool with authentication, rate limiting, auditing and
// metrics.
func (s *Server) handle(tool string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := authctx.UserID(ctx)
		if !ok {
			s.metrics.RecordCommand(tool, "unauthenticated")
			return mcp.NewToolResultError("authentication required"), nil
		}
		meta := authctx.Meta(ctx)

		if err := s.lim.Allow(ctx, meta.IPAddress, tool); err != nil {
			if errors.Is(err, errs.ErrRateLimited) {
				s.metrics.RecordRateLimited(tool)
				s.metrics.RecordCommand(tool, "rate_limited")
				s.audit.Failure(ctx, &userID, tool, "mcp", meta, "rate limit exceeded")
				return mcp.NewToolResultError("rate limit exceeded, try again later"), nil
			}
			s.log.Error("rate limit check failed", zap.String("tool", tool), zap.Error(err))
			s.metrics.RecordCommand(tool, "error")
			return mcp.NewToolResultError("internal error"), nil
		}

		out, err := fn(ctx, userID, request)
		if err != nil {
			s.metrics.RecordCommand(tool, "error")
			s.audit.Failure(ctx, &userID, tool, "mcp", meta, err.Error())
			return mcp.NewToolResultError(userMessage(err)), nil
		}

		s.metrics.RecordCommand(tool, "success")
		s.audit.Success(ctx, &userID, tool, "mcp", meta, model.Document{"tool": tool})

		body, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError("internal error"), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func (s *Server) handlePush(ctx context.Context, userID int64, request mcp.CallToolRequest) (model.Document, error) {
	repo, err := request.RequireString("repository")
	if err != nil {
		return nil, err
	}
	branch, err := request.RequireString("branch")
	if err != nil {
		return nil, err
	}
	return s.workflows.Push(ctx, userID, service.PushInput{
		Repository:     repo,
		Branch:         branch,
		Title:          request.GetString("title", ""),
		Body:           request.GetString("body", ""),
		BaseBranch:     request.GetString("base_branch", ""),
		CreatePR:       request.GetBool("create_pr", false),
		ReadyForReview: request.GetBool("ready_for_review", false),
	})
}

func (s *Server) handleScanTasks(ctx context.Context, userID int64, request mcp.CallToolRequest) (model.Document, error) {
	number := request.GetInt("project_number", 0)
	if number <= 0 {
		return nil, errors.New("project_number is required")
	}
	return s.workflows.ScanTasks(ctx, userID, service.ScanTasksInput{
		ProjectNumber: number,
		Status:        request.GetString("status", ""),
	})
}

func (s *Server) handleMerge(ctx context.Context, userID int64, request mcp.CallToolRequest) (model.Document, error) {
	repo, err := request.RequireString("repository")
	if err != nil {
		return nil, err
	}
	branch, err := request.RequireString("branch")
	if err != nil {
		return nil, err
	}
	return s.workflows.Merge(ctx, userID, service.MergeInput{
		Repository:   repo,
		Branch:       branch,
		DeleteBranch: request.GetBool("delete_branch", true),
	})
}

func (s *Server) handleStatus(ctx context.Context, userID int64, request mcp.CallToolRequest) (model.Document, error) {
	repo, err := request.RequireString("repository")
	if err != nil {
		return nil, err
	}
	wtype, err := request.RequireString("workflow_type")
	if err != nil {
		return nil, err
	}
	ws, err := s.workflows.GetState(ctx, userID, repo, request.GetString("branch", ""), model.WorkflowType(wtype))
	if err != nil {
		return nil, err
	}
	return model.Document{
		"repository": ws.Repository,
		"branch":     ws.Branch,
		"workflow":   string(ws.Type),
		"state":      ws.State,
		"updated_at": ws.UpdatedAt,
	}, nil
}

// userMessage maps internal errors to client-safe text.
func userMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrExpired):
		return "GitHub credential expired, sign in again"
	case errors.Is(err, errs.ErrNotFound):
		return fmt.Sprintf("not found: %v", err)
	case errors.Is(err, errs.ErrStorage):
		return "internal error"
	case errors.Is(err, service.ErrInvalidWorkflowType):
		return err.Error()
	default:
		return err.Error()
	}
}
