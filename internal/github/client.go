// Package github is a minimal GitHub REST and GraphQL client covering the
// calls the command workflows need. It is not a general SDK.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
)

const userAgent = "github-mcp-server"

// User is the authenticated GitHub account.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Ref names one side of a pull request.
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest is the subset of the PR resource the workflows read.
type PullRequest struct {
	Number  int    `json:"number"`
	NodeID  string `json:"node_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	Draft   bool   `json:"draft"`
	HTMLURL string `json:"html_url"`
	Head    Ref    `json:"head"`
	Base    Ref    `json:"base"`
}

// NewPullRequest holds the fields for creating a pull request.
type NewPullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft,omitempty"`
}

// ProjectItem is one card from a Projects v2 board, flattened for display.
type ProjectItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Client calls the GitHub API on behalf of one user token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	observe func(operation string, d time.Duration)
}

// NewClient builds a client for baseURL authenticated with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithObserver registers fn to receive the latency of every API call.
func (c *Client) WithObserver(fn func(operation string, d time.Duration)) *Client {
	c.observe = fn
	return c
}

// AuthenticatedUser fetches the account that owns the token.
func (c *Client) AuthenticatedUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, "get_user", http.MethodGet, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListPullRequests lists PRs for a repository. state is "open", "closed",
// "all" or empty for the API default.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, state string) ([]PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var prs []PullRequest
	if err := c.do(ctx, "list_pulls", http.MethodGet, path, nil, &prs); err != nil {
		return nil, err
	}
	return prs, nil
}

// PullRequestForBranch finds the open PR whose head is branch. Returns
// errs.ErrNotFound when no open PR exists for it.
func (c *Client) PullRequestForBranch(ctx context.Context, owner, repo, branch string) (*PullRequest, error) {
	prs, err := c.ListPullRequests(ctx, owner, repo, "open")
	if err != nil {
		return nil, err
	}
	for i := range prs {
		if prs[i].Head.Ref == branch {
			return &prs[i], nil
		}
	}
	return nil, fmt.Errorf("no open pull request for branch %s: %w", branch, errs.ErrNotFound)
}

// CreatePullRequest opens a new PR.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, p NewPullRequest) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	if err := c.do(ctx, "create_pull", http.MethodPost, path, p, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// MergePullRequest merges PR number via the merge endpoint.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
	return c.do(ctx, "merge_pull", http.MethodPut, path, map[string]any{}, nil)
}

// DeleteBranch deletes the remote branch ref.
func (c *Client) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	path := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, url.PathEscape(branch))
	return c.do(ctx, "delete_branch", http.MethodDelete, path, nil, nil)
}

const readyForReviewMutation = `mutation($id: ID!) {
  markPullRequestReadyForReview(input: {pullRequestId: $id}) {
    pullRequest { number }
  }
}`

// MarkPullRequestReady flips a draft PR to ready for review. The REST API has
// no endpoint for this, so it goes through GraphQL with the PR node id.
func (c *Client) MarkPullRequestReady(ctx context.Context, nodeID string) error {
	payload := map[string]any{
		"query": readyForReviewMutation,
		"variables": map[string]any{
			"id": nodeID,
		},
	}
	var resp struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.do(ctx, "ready_pull", http.MethodPost, "/graphql", payload, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("github graphql: %s", resp.Errors[0].Message)
	}
	return nil
}

// graphql response shape for the project items query, trimmed to the fields
// the scan uses.
type projectItemsResp struct {
	Data struct {
		Organization struct {
			ProjectV2 struct {
				Items struct {
					Nodes []struct {
						ID      string `json:"id"`
						Content struct {
							Title string `json:"title"`
							Body  string `json:"body"`
							URL   string `json:"url"`
						} `json:"content"`
						FieldValues struct {
							Nodes []struct {
								Field struct {
									Name string `json:"name"`
								} `json:"field"`
								Text string `json:"text"`
								Name string `json:"name"`
							} `json:"nodes"`
						} `json:"fieldValues"`
					} `json:"nodes"`
				} `json:"items"`
			} `json:"projectV2"`
		} `json:"organization"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const projectItemsQuery = `query($org: String!, $number: Int!) {
  organization(login: $org) {
    projectV2(number: $number) {
      items(first: 100) {
        nodes {
          id
          content {
            ... on Issue { title body url }
            ... on PullRequest { title body url }
          }
          fieldValues(first: 20) {
            nodes {
              ... on ProjectV2ItemFieldTextValue {
                field { ... on ProjectV2Field { name } }
                text
              }
              ... on ProjectV2ItemFieldSingleSelectValue {
                field { ... on ProjectV2SingleSelectField { name } }
                name
              }
            }
          }
        }
      }
    }
  }
}`

// ProjectItems reads the items of a Projects v2 board via GraphQL.
func (c *Client) ProjectItems(ctx context.Context, org string, number int) ([]ProjectItem, error) {
	payload := map[string]any{
		"query": projectItemsQuery,
		"variables": map[string]any{
			"org":    org,
			"number": number,
		},
	}
	var resp projectItemsResp
	if err := c.do(ctx, "project_items", http.MethodPost, "/graphql", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("github graphql: %s", resp.Errors[0].Message)
	}

	nodes := resp.Data.Organization.ProjectV2.Items.Nodes
	items := make([]ProjectItem, 0, len(nodes))
	for _, n := range nodes {
		it := ProjectItem{
			ID:    n.ID,
			Title: n.Content.Title,
			Body:  n.Content.Body,
			URL:   n.Content.URL,
		}
		for _, fv := range n.FieldValues.Nodes {
			if fv.Field.Name == "Status" && fv.Name != "" {
				it.Status = fv.Name
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(operation, time.Since(start)) }()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("github: %s %s: %w", method, path, errs.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("github: %s %s: %w", method, path, errs.ErrUnauthenticated)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s %s: %w", method, path, err)
	}
	return nil
}
