package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer gho_tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    int64(42),
			"login": "octocat",
			"name":  "The Octocat",
		})
	}))
	defer srv.Close()

	u, err := NewClient(srv.URL, "gho_tok").AuthenticatedUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), u.ID)
	require.Equal(t, "octocat", u.Login)
}

func TestAuthenticatedUser_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad").AuthenticatedUser(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestPullRequestForBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
		require.Equal(t, "open", r.URL.Query().Get("state"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"number": 1, "head": map[string]any{"ref": "main-fixups"}},
			{"number": 7, "title": "Add widgets", "head": map[string]any{"ref": "feature/widgets"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")

	pr, err := c.PullRequestForBranch(context.Background(), "acme", "widgets", "feature/widgets")
	require.NoError(t, err)
	require.Equal(t, 7, pr.Number)

	_, err = c.PullRequestForBranch(context.Background(), "acme", "widgets", "no-such-branch")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreatePullRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)

		var in NewPullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "feature/widgets", in.Head)
		require.Equal(t, "main", in.Base)
		require.True(t, in.Draft)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":   12,
			"node_id":  "PR_kw12",
			"draft":    true,
			"title":    in.Title,
			"html_url": "https://example.com/pull/12",
		})
	}))
	defer srv.Close()

	pr, err := NewClient(srv.URL, "tok").CreatePullRequest(context.Background(), "acme", "widgets", NewPullRequest{
		Title: "Add widgets",
		Head:  "feature/widgets",
		Base:  "main",
		Draft: true,
	})
	require.NoError(t, err)
	require.Equal(t, 12, pr.Number)
	require.Equal(t, "PR_kw12", pr.NodeID)
	require.True(t, pr.Draft)
	require.Equal(t, "https://example.com/pull/12", pr.HTMLURL)
}

func TestMarkPullRequestReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/graphql", r.URL.Path)

		var in struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Contains(t, in.Query, "markPullRequestReadyForReview")
		require.Equal(t, "PR_kw12", in.Variables["id"])

		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok").MarkPullRequestReady(context.Background(), "PR_kw12")
	require.NoError(t, err)
}

func TestMarkPullRequestReady_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "pull request is not a draft"}},
		})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok").MarkPullRequestReady(context.Background(), "PR_kw12")
	require.ErrorContains(t, err, "not a draft")
}

func TestMergePullRequest(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"merged": true})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok").MergePullRequest(context.Background(), "acme", "widgets", 12)
	require.NoError(t, err)
	require.Equal(t, "PUT /repos/acme/widgets/pulls/12/merge", gotPath)
}

func TestDeleteBranch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok").DeleteBranch(context.Background(), "acme", "widgets", "gone")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestProjectItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)

		var payload struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "acme", payload.Variables["org"])
		require.EqualValues(t, 3, payload.Variables["number"])

		_, _ = w.Write([]byte(`{"data":{"organization":{"projectV2":{"items":{"nodes":[
			{"id":"PVTI_1","content":{"title":"Fix login","url":"https://example.com/1"},
			 "fieldValues":{"nodes":[{"field":{"name":"Status"},"name":"In Progress"}]}},
			{"id":"PVTI_2","content":{"title":"Write docs","url":"https://example.com/2"},
			 "fieldValues":{"nodes":[]}}
		]}}}}}`))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, "tok").ProjectItems(context.Background(), "acme", 3)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Fix login", items[0].Title)
	require.Equal(t, "In Progress", items[0].Status)
	require.Empty(t, items[1].Status)
}

func TestProjectItems_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"project not found"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok").ProjectItems(context.Background(), "acme", 9)
	require.Error(t, err)
	require.False(t, errors.Is(err, errs.ErrNotFound))
}

func TestObserverSeesEveryCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user" {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": int64(1), "login": "octocat"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	type call struct {
		op string
		d  time.Duration
	}
	var calls []call
	c := NewClient(srv.URL, "tok").WithObserver(func(op string, d time.Duration) {
		calls = append(calls, call{op, d})
	})

	_, err := c.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	// failed calls are observed too
	require.Error(t, c.DeleteBranch(context.Background(), "acme", "widgets", "gone"))

	require.Len(t, calls, 2)
	require.Equal(t, "get_user", calls[0].op)
	require.Equal(t, "delete_branch", calls[1].op)
	for _, c := range calls {
		require.GreaterOrEqual(t, c.d, time.Duration(0))
	}
}
