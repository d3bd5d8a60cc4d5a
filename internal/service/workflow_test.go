package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/github"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/repository"
	"go.uber.org/zap"
)

type fakeWorkflowRepo struct {
	states map[string]*model.WorkflowState

	upsertErr error
}

var _ repository.WorkflowRepository = (*fakeWorkflowRepo)(nil)

func wfKey(userID int64, repo, branch string, t model.WorkflowType) string {
	return fmt.Sprintf("%d|%s|%s|%s", userID, repo, branch, t)
}

func (f *fakeWorkflowRepo) Get(_ context.Context, userID int64, repo, branch string, t model.WorkflowType) (*model.WorkflowState, error) {
	ws, ok := f.states[wfKey(userID, repo, branch, t)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *ws
	return &cpy, nil
}

func (f *fakeWorkflowRepo) Upsert(_ context.Context, ws *model.WorkflowState) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.states == nil {
		f.states = map[string]*model.WorkflowState{}
	}
	cpy := *ws
	f.states[wfKey(ws.UserID, ws.Repository, ws.Branch, ws.Type)] = &cpy
	return nil
}

type fakeRepoAPI struct {
	prByBranch map[string]*github.PullRequest
	created    *github.PullRequest
	items      []github.ProjectItem

	createErr error
	mergeErr  error
	readyErr  error
	deleteErr error
	itemsErr  error

	merged          []int
	markedReady     []string
	deletedBranches []string
}

var _ RepoAPI = (*fakeRepoAPI)(nil)

func (f *fakeRepoAPI) PullRequestForBranch(_ context.Context, _, _, branch string) (*github.PullRequest, error) {
	pr, ok := f.prByBranch[branch]
	if !ok {
		return nil, fmt.Errorf("no open pull request for branch %s: %w", branch, errs.ErrNotFound)
	}
	return pr, nil
}

func (f *fakeRepoAPI) CreatePullRequest(_ context.Context, _, _ string, p github.NewPullRequest) (*github.PullRequest, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &github.PullRequest{
		Number:  101,
		NodeID:  "PR_101",
		Title:   p.Title,
		Body:    p.Body,
		Draft:   p.Draft,
		HTMLURL: "https://example.com/pull/101",
		Head:    github.Ref{Ref: p.Head},
		Base:    github.Ref{Ref: p.Base},
	}
	return f.created, nil
}

func (f *fakeRepoAPI) MarkPullRequestReady(_ context.Context, nodeID string) error {
	if f.readyErr != nil {
		return f.readyErr
	}
	f.markedReady = append(f.markedReady, nodeID)
	return nil
}

func (f *fakeRepoAPI) MergePullRequest(_ context.Context, _, _ string, number int) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, number)
	return nil
}

func (f *fakeRepoAPI) DeleteBranch(_ context.Context, _, _, branch string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedBranches = append(f.deletedBranches, branch)
	return nil
}

func (f *fakeRepoAPI) ProjectItems(_ context.Context, _ string, _ int) ([]github.ProjectItem, error) {
	return f.items, f.itemsErr
}

type workflowFixture struct {
	svc    *WorkflowService
	states *fakeWorkflowRepo
	gh     *fakeRepoAPI
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		states: &fakeWorkflowRepo{},
		gh:     &fakeRepoAPI{},
	}

	creds := &fakeCredRepo{}
	store := NewCredentialStore(creds, newTestCipher(t), 30*24*time.Hour)
	if err := store.Put(context.Background(), 1, "gho_tok", "", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	f.svc = NewWorkflowService(f.states, store,
		func(string) RepoAPI { return f.gh }, "acme", zap.NewNop())
	return f
}

func (f *workflowFixture) state(t *testing.T, userID int64, repo, branch string, wt model.WorkflowType) model.Document {
	t.Helper()
	ws, ok := f.states.states[wfKey(userID, repo, branch, wt)]
	if !ok {
		t.Fatalf("no tracked state for %s %s/%s", wt, repo, branch)
	}
	return ws.State
}

func TestWorkflow_PushExistingPR(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.prByBranch = map[string]*github.PullRequest{
		"feature/x": {Number: 7, Title: "Add x", HTMLURL: "https://example.com/pull/7"},
	}

	out, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository: "acme/widgets",
		Branch:     "feature/x",
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	pr := out["pull_request"].(model.Document)
	if pr["number"] != 7 {
		t.Fatalf("pull_request: %+v", pr)
	}
	if f.gh.created != nil {
		t.Fatalf("unexpected PR creation")
	}

	st := f.state(t, 1, "acme/widgets", "feature/x", model.WorkflowPush)
	if st["status"] != model.WorkflowStatusDone || st["pr_number"] != 7 {
		t.Fatalf("tracked state: %+v", st)
	}
}

func TestWorkflow_PushCreatesPR(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)

	out, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository: "acme/widgets",
		Branch:     "feature/y",
		Title:      "Add y",
		CreatePR:   true,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if f.gh.created == nil || f.gh.created.Head.Ref != "feature/y" || f.gh.created.Base.Ref != "main" {
		t.Fatalf("created PR: %+v", f.gh.created)
	}
	if !f.gh.created.Draft {
		t.Fatal("new PR must start as a draft")
	}
	if len(f.gh.markedReady) != 0 {
		t.Fatalf("unexpected ready-for-review calls: %v", f.gh.markedReady)
	}
	pr := out["pull_request"].(model.Document)
	if pr["number"] != 101 {
		t.Fatalf("pull_request: %+v", pr)
	}
	if pr["draft"] != true {
		t.Fatalf("draft flag: %+v", pr)
	}
}

func TestWorkflow_PushReadyForReview(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)

	out, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository:     "acme/widgets",
		Branch:         "feature/y",
		CreatePR:       true,
		ReadyForReview: true,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(f.gh.markedReady) != 1 || f.gh.markedReady[0] != "PR_101" {
		t.Fatalf("markedReady: %v", f.gh.markedReady)
	}
	pr := out["pull_request"].(model.Document)
	if pr["draft"] != false {
		t.Fatalf("draft flag after promotion: %+v", pr)
	}
}

func TestWorkflow_PushReadyForReviewExistingNonDraft(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.prByBranch = map[string]*github.PullRequest{
		"feature/x": {Number: 7, NodeID: "PR_7", HTMLURL: "https://example.com/pull/7"},
	}

	_, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository:     "acme/widgets",
		Branch:         "feature/x",
		ReadyForReview: true,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(f.gh.markedReady) != 0 {
		t.Fatalf("non-draft PR must not be promoted: %v", f.gh.markedReady)
	}
}

func TestWorkflow_PushReadyForReviewFailureTracked(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.readyErr = errors.New("graphql unavailable")

	_, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository:     "acme/widgets",
		Branch:         "feature/y",
		CreatePR:       true,
		ReadyForReview: true,
	})
	if err == nil {
		t.Fatal("want error from ready-for-review step")
	}
	st := f.state(t, 1, "acme/widgets", "feature/y", model.WorkflowPush)
	if st["status"] != model.WorkflowStatusFailed {
		t.Fatalf("tracked state: %+v", st)
	}
}

func TestWorkflow_PushNoPRNoCreate(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)

	out, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository: "acme/widgets",
		Branch:     "feature/z",
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, hasPR := out["pull_request"]; hasPR {
		t.Fatalf("unexpected pull_request: %+v", out)
	}
	if out["suggestion"] == nil {
		t.Fatalf("want a follow-up suggestion: %+v", out)
	}
}

func TestWorkflow_PushFailureTracked(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.createErr = errors.New("validation failed")

	_, err := f.svc.Push(context.Background(), 1, PushInput{
		Repository: "acme/widgets",
		Branch:     "feature/broken",
		CreatePR:   true,
	})
	if err == nil {
		t.Fatalf("want error")
	}
	st := f.state(t, 1, "acme/widgets", "feature/broken", model.WorkflowPush)
	if st["status"] != model.WorkflowStatusFailed || st["error"] == "" {
		t.Fatalf("tracked state: %+v", st)
	}
}

func TestWorkflow_PushValidation(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)

	if _, err := f.svc.Push(context.Background(), 1, PushInput{Repository: "notaslug", Branch: "b"}); err == nil {
		t.Fatalf("want error for repository without owner")
	}
	if _, err := f.svc.Push(context.Background(), 1, PushInput{Repository: "acme/widgets"}); err == nil {
		t.Fatalf("want error for missing branch")
	}
}

func TestWorkflow_ExpiredCredential(t *testing.T) {
	t.Parallel()
	states := &fakeWorkflowRepo{}
	creds := &fakeCredRepo{}
	store := NewCredentialStore(creds, newTestCipher(t), time.Hour)
	if err := store.Put(context.Background(), 1, "stale", "", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	svc := NewWorkflowService(states, store, func(string) RepoAPI {
		t.Fatalf("client must not be built from an expired credential")
		return nil
	}, "acme", zap.NewNop())

	_, err := svc.Push(context.Background(), 1, PushInput{Repository: "acme/widgets", Branch: "b"})
	if !errors.Is(err, errs.ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestWorkflow_ScanTasks(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.items = []github.ProjectItem{
		{ID: "1", Title: "Fix login", Status: "In Progress"},
		{ID: "2", Title: "Write docs", Status: "Todo"},
		{ID: "3", Title: "Orphan card"},
	}

	out, err := f.svc.ScanTasks(context.Background(), 1, ScanTasksInput{ProjectNumber: 3})
	if err != nil {
		t.Fatalf("ScanTasks: %v", err)
	}
	if out["task_count"] != 3 {
		t.Fatalf("task_count: %+v", out)
	}
	byStatus := out["tasks"].(map[string][]github.ProjectItem)
	if len(byStatus["In Progress"]) != 1 || len(byStatus["unassigned"]) != 1 {
		t.Fatalf("grouping: %+v", byStatus)
	}

	filtered, err := f.svc.ScanTasks(context.Background(), 1, ScanTasksInput{ProjectNumber: 3, Status: "todo"})
	if err != nil {
		t.Fatalf("ScanTasks filtered: %v", err)
	}
	if filtered["task_count"] != 1 {
		t.Fatalf("filtered task_count: %+v", filtered)
	}
}

func TestWorkflow_MergeFlow(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.prByBranch = map[string]*github.PullRequest{
		"feature/x": {Number: 7, Title: "Add x", HTMLURL: "https://example.com/pull/7"},
	}

	out, err := f.svc.Merge(context.Background(), 1, MergeInput{
		Repository:   "acme/widgets",
		Branch:       "feature/x",
		DeleteBranch: true,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(f.gh.merged) != 1 || f.gh.merged[0] != 7 {
		t.Fatalf("merged: %v", f.gh.merged)
	}
	if len(f.gh.deletedBranches) != 1 || f.gh.deletedBranches[0] != "feature/x" {
		t.Fatalf("deleted: %v", f.gh.deletedBranches)
	}
	if out["branch_deleted"] != true {
		t.Fatalf("result: %+v", out)
	}

	st := f.state(t, 1, "acme/widgets", "feature/x", model.WorkflowMerge)
	if st["status"] != model.WorkflowStatusDone {
		t.Fatalf("tracked state: %+v", st)
	}
}

func TestWorkflow_MergeRejectsDefaultBranch(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	for _, branch := range []string{"main", "master"} {
		if _, err := f.svc.Merge(context.Background(), 1, MergeInput{Repository: "acme/widgets", Branch: branch}); err == nil {
			t.Fatalf("want refusal for branch %s", branch)
		}
	}
}

func TestWorkflow_MergeBranchDeleteFailureIsPartialSuccess(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	f.gh.prByBranch = map[string]*github.PullRequest{
		"feature/x": {Number: 7},
	}
	f.gh.deleteErr = errors.New("protected branch")

	out, err := f.svc.Merge(context.Background(), 1, MergeInput{
		Repository:   "acme/widgets",
		Branch:       "feature/x",
		DeleteBranch: true,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out["branch_deleted"] != false {
		t.Fatalf("result: %+v", out)
	}
}

func TestWorkflow_StateAccessors(t *testing.T) {
	t.Parallel()
	f := newWorkflowFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetState(ctx, 1, "acme/widgets", "b", model.WorkflowType("deploy")); !errors.Is(err, ErrInvalidWorkflowType) {
		t.Fatalf("want ErrInvalidWorkflowType, got %v", err)
	}
	if err := f.svc.SetState(ctx, 1, "acme/widgets", "b", model.WorkflowType("deploy"), nil); !errors.Is(err, ErrInvalidWorkflowType) {
		t.Fatalf("want ErrInvalidWorkflowType, got %v", err)
	}

	if _, err := f.svc.GetState(ctx, 1, "acme/widgets", "b", model.WorkflowPush); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound before first write, got %v", err)
	}

	want := model.Document{"status": model.WorkflowStatusInProgress, "step": "review"}
	if err := f.svc.SetState(ctx, 1, "acme/widgets", "b", model.WorkflowPush, want); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	ws, err := f.svc.GetState(ctx, 1, "acme/widgets", "b", model.WorkflowPush)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if ws.State["step"] != "review" {
		t.Fatalf("state: %+v", ws.State)
	}

	// last writer wins
	if err := f.svc.SetState(ctx, 1, "acme/widgets", "b", model.WorkflowPush, model.Document{"status": model.WorkflowStatusDone}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	ws, err = f.svc.GetState(ctx, 1, "acme/widgets", "b", model.WorkflowPush)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if ws.State["status"] != model.WorkflowStatusDone || ws.State["step"] != nil {
		t.Fatalf("state after overwrite: %+v", ws.State)
	}
}
