package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/github"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
	"go.uber.org/zap"
)

// ErrInvalidWorkflowType is returned for workflow types outside the
// documented set.
var ErrInvalidWorkflowType = errors.New("invalid workflow type")

// RepoAPI is the slice of the GitHub API the command workflows need.
type RepoAPI interface {
	PullRequestForBranch(ctx context.Context, owner, repo, branch string) (*github.PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo string, p github.NewPullRequest) (*github.PullRequest, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int) error
	MarkPullRequestReady(ctx context.Context, nodeID string) error
	DeleteBranch(ctx context.Context, owner, repo, branch string) error
	ProjectItems(ctx context.Context, org string, number int) ([]github.ProjectItem, error)
}

// RepoAPIFactory builds a RepoAPI bound to an access token.
type RepoAPIFactory func(accessToken string) RepoAPI

// PushInput parameterizes the push workflow.
type PushInput struct {
	Repository string // owner/repo
	Branch     string
	Title      string
	Body       string
	BaseBranch string // default "main"
	CreatePR   bool
	// ReadyForReview flips the branch PR out of draft. New PRs start as
	// drafts until this is set.
	ReadyForReview bool
}

// ScanTasksInput parameterizes the project task scan.
type ScanTasksInput struct {
	ProjectNumber int
	Status        string // optional filter on the Status field
}

// MergeInput parameterizes the merge workflow.
type MergeInput struct {
	Repository   string // owner/repo
	Branch       string
	DeleteBranch bool
}

// WorkflowService executes the documented command workflows against the
// GitHub API and tracks per-workflow state so interrupted runs can be
// inspected and resumed.
type WorkflowService struct {
	states repository.WorkflowRepository
	creds  *CredentialStore
	ghFor  RepoAPIFactory
	org    string
	log    *zap.Logger
	now    func() time.Time
}

// NewWorkflowService constructs a WorkflowService. org is the organization
// whose project boards the task scan reads.
func NewWorkflowService(states repository.WorkflowRepository, creds *CredentialStore,
	ghFor RepoAPIFactory, org string, log *zap.Logger) *WorkflowService {
	return &WorkflowService{states: states, creds: creds, ghFor: ghFor, org: org, log: log, now: time.Now}
}

// WithClock replaces the time source. Test hook.
func (s *WorkflowService) WithClock(now func() time.Time) *WorkflowService {
	s.now = now
	return s
}

// GetState loads the tracked state blob for one workflow key. Returns
// errs.ErrNotFound when the workflow was never started.
func (s *WorkflowService) GetState(ctx context.Context, userID int64, repo, branch string, wtype model.WorkflowType) (*model.WorkflowState, error) {
	if !wtype.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkflowType, wtype)
	}
	return s.states.Get(ctx, userID, repo, branch, wtype)
}

// SetState replaces the tracked state blob for one workflow key.
// Last writer wins.
func (s *WorkflowService) SetState(ctx context.Context, userID int64, repo, branch string, wtype model.WorkflowType, state model.Document) error {
	if !wtype.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidWorkflowType, wtype)
	}
	return s.states.Upsert(ctx, &model.WorkflowState{
		UserID:     userID,
		Repository: repo,
		Branch:     branch,
		Type:       wtype,
		State:      state,
	})
}

// Push ensures an open pull request exists for the pushed branch. New PRs are
// created as drafts; ReadyForReview promotes the draft once the work is done.
func (s *WorkflowService) Push(ctx context.Context, userID int64, in PushInput) (model.Document, error) {
	owner, repo, err := splitRepo(in.Repository)
	if err != nil {
		return nil, err
	}
	if in.Branch == "" {
		return nil, errors.New("branch is required")
	}

	gh, err := s.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, model.Document{
		"status": model.WorkflowStatusStarted,
	})

	pr, err := gh.PullRequestForBranch(ctx, owner, repo, in.Branch)
	switch {
	case err == nil:
		// existing PR, nothing to create
	case errors.Is(err, errs.ErrNotFound) && in.CreatePR:
		s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, model.Document{
			"status": model.WorkflowStatusInProgress,
			"step":   "create_pr",
		})
		base := in.BaseBranch
		if base == "" {
			base = "main"
		}
		title := in.Title
		if title == "" {
			title = in.Branch
		}
		// new PRs start as drafts and get promoted below when requested
		pr, err = gh.CreatePullRequest(ctx, owner, repo, github.NewPullRequest{
			Title: title,
			Body:  in.Body,
			Head:  in.Branch,
			Base:  base,
			Draft: true,
		})
		if err != nil {
			s.fail(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, err)
			return nil, err
		}
	case errors.Is(err, errs.ErrNotFound):
		s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, model.Document{
			"status": model.WorkflowStatusDone,
		})
		return model.Document{
			"status":     "success",
			"branch":     in.Branch,
			"message":    fmt.Sprintf("pushed to branch %s", in.Branch),
			"suggestion": "consider creating a pull request for this branch",
		}, nil
	default:
		s.fail(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, err)
		return nil, err
	}

	if in.ReadyForReview && pr.Draft {
		s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, model.Document{
			"status":    model.WorkflowStatusInProgress,
			"step":      "ready_for_review",
			"pr_number": pr.Number,
		})
		if err := gh.MarkPullRequestReady(ctx, pr.NodeID); err != nil {
			s.fail(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, err)
			return nil, err
		}
		pr.Draft = false
	}

	s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowPush, model.Document{
		"status":    model.WorkflowStatusDone,
		"pr_number": pr.Number,
		"pr_url":    pr.HTMLURL,
	})
	return model.Document{
		"status": "success",
		"branch": in.Branch,
		"pull_request": model.Document{
			"number": pr.Number,
			"url":    pr.HTMLURL,
			"title":  pr.Title,
			"draft":  pr.Draft,
		},
	}, nil
}

// ScanTasks reads the organization project board and groups items by their
// Status field, optionally filtered to one status.
func (s *WorkflowService) ScanTasks(ctx context.Context, userID int64, in ScanTasksInput) (model.Document, error) {
	if s.org == "" {
		return nil, errors.New("no organization configured for project scans")
	}
	if in.ProjectNumber <= 0 {
		return nil, errors.New("project number is required")
	}

	gh, err := s.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/projects/%d", s.org, in.ProjectNumber)
	s.track(ctx, userID, key, "", model.WorkflowScanTasks, model.Document{
		"status": model.WorkflowStatusStarted,
	})

	items, err := gh.ProjectItems(ctx, s.org, in.ProjectNumber)
	if err != nil {
		s.fail(ctx, userID, key, "", model.WorkflowScanTasks, err)
		return nil, err
	}

	byStatus := map[string][]github.ProjectItem{}
	total := 0
	for _, it := range items {
		if in.Status != "" && !strings.EqualFold(it.Status, in.Status) {
			continue
		}
		st := it.Status
		if st == "" {
			st = "unassigned"
		}
		byStatus[st] = append(byStatus[st], it)
		total++
	}

	s.track(ctx, userID, key, "", model.WorkflowScanTasks, model.Document{
		"status":     model.WorkflowStatusDone,
		"item_count": total,
	})
	return model.Document{
		"status":         "success",
		"project_number": in.ProjectNumber,
		"task_count":     total,
		"tasks":          byStatus,
	}, nil
}

// Merge merges the open pull request for the branch and optionally deletes
// the remote branch afterwards.
func (s *WorkflowService) Merge(ctx context.Context, userID int64, in MergeInput) (model.Document, error) {
	owner, repo, err := splitRepo(in.Repository)
	if err != nil {
		return nil, err
	}
	if in.Branch == "" {
		return nil, errors.New("branch is required")
	}
	if in.Branch == "main" || in.Branch == "master" {
		return nil, fmt.Errorf("refusing to merge from default branch %s", in.Branch)
	}

	gh, err := s.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowMerge, model.Document{
		"status": model.WorkflowStatusStarted,
	})

	pr, err := gh.PullRequestForBranch(ctx, owner, repo, in.Branch)
	if err != nil {
		s.fail(ctx, userID, in.Repository, in.Branch, model.WorkflowMerge, err)
		return nil, err
	}

	s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowMerge, model.Document{
		"status":    model.WorkflowStatusInProgress,
		"step":      "merge_pr",
		"pr_number": pr.Number,
	})
	if err := gh.MergePullRequest(ctx, owner, repo, pr.Number); err != nil {
		s.fail(ctx, userID, in.Repository, in.Branch, model.WorkflowMerge, err)
		return nil, err
	}

	branchDeleted := false
	if in.DeleteBranch {
		if err := gh.DeleteBranch(ctx, owner, repo, in.Branch); err != nil {
			// merge already happened; report partial success
			s.log.Warn("branch delete after merge failed",
				zap.String("repository", in.Repository),
				zap.String("branch", in.Branch),
				zap.Error(err))
		} else {
			branchDeleted = true
		}
	}

	s.track(ctx, userID, in.Repository, in.Branch, model.WorkflowMerge, model.Document{
		"status":    model.WorkflowStatusDone,
		"pr_number": pr.Number,
	})
	return model.Document{
		"status": "success",
		"merged_pr": model.Document{
			"number": pr.Number,
			"url":    pr.HTMLURL,
			"title":  pr.Title,
		},
		"branch_deleted": branchDeleted,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
	}, nil
}

// client builds a GitHub client from the user's stored credential. An expired
// credential surfaces errs.ErrExpired so the caller can re-authenticate.
func (s *WorkflowService) client(ctx context.Context, userID int64) (RepoAPI, error) {
	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ghFor(cred.AccessToken), nil
}

// track stores a workflow state transition, best effort. State tracking
// never fails the workflow itself.
func (s *WorkflowService) track(ctx context.Context, userID int64, repo, branch string, wtype model.WorkflowType, state model.Document) {
	if err := s.states.Upsert(ctx, &model.WorkflowState{
		UserID:     userID,
		Repository: repo,
		Branch:     branch,
		Type:       wtype,
		State:      state,
	}); err != nil {
		s.log.Error("workflow state write failed",
			zap.String("workflow", string(wtype)),
			zap.String("repository", repo),
			zap.Error(err))
	}
}

func (s *WorkflowService) fail(ctx context.Context, userID int64, repo, branch string, wtype model.WorkflowType, cause error) {
	s.track(ctx, userID, repo, branch, wtype, model.Document{
		"status": model.WorkflowStatusFailed,
		"error":  cause.Error(),
	})
}

func splitRepo(full string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("repository must be owner/repo, got %q", full)
	}
	return owner, repo, nil
}
