package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func jiraTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	issues := []map[string]any{
		{"key": "ABC-1", "fields": map[string]any{"summary": "First issue", "updated": "2025-06-02T10:00:00.000+0000"}},
		{"key": "ABC-2", "fields": map[string]any{"summary": "Second issue", "updated": "2025-06-03T10:00:00.000+0000"}},
		{"key": "ABC-3", "fields": map[string]any{"summary": "Third issue", "updated": "2025-06-04T10:00:00.000+0000"}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "bot" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		// One issue per page to exercise pagination.
		page := issues[startAt:min(startAt+1, len(issues))]
		json.NewEncoder(w).Encode(map[string]any{
			"startAt":    startAt,
			"maxResults": 1,
			"total":      len(issues),
			"issues":     page,
		})
	})
	mux.HandleFunc("/rest/api/2/issue/ABC-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"key": "ABC-1",
			"fields": map[string]any{
				"summary":     "First issue",
				"description": "Something is broken in the poller.",
				"comment": map[string]any{
					"comments": []map[string]any{
						{"author": map[string]any{"displayName": "Dana"}, "body": "Reproduced on staging."},
					},
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func jiraAccount(url string) *Account {
	return &Account{
		ID:         "conn-1",
		Name:       "team-jira",
		SourceType: "jira",
		BaseURL:    url,
		Username:   "bot",
		Token:      "secret",
		MaxBatch:   100,
	}
}

func TestJiraClient_ListChanged_Paginates(t *testing.T) {
	server := jiraTestServer(t)
	client := NewJiraClient(server.Client(), "test-agent")

	descs, err := client.ListChanged(context.Background(), jiraAccount(server.URL), nil)
	if err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("Expected 3 issues across pages, got %d", len(descs))
	}
	if descs[0].ExternalKey != "ABC-1" || descs[2].ExternalKey != "ABC-3" {
		t.Errorf("Unexpected keys: %v", descs)
	}
	if descs[0].Version != "2025-06-02T10:00:00.000+0000" {
		t.Errorf("Expected updated timestamp as change token, got %s", descs[0].Version)
	}
	if descs[0].URL != server.URL+"/browse/ABC-1" {
		t.Errorf("Unexpected browse URL: %s", descs[0].URL)
	}
	if descs[0].UpdatedAt.IsZero() {
		t.Error("Expected parsed updated time")
	}
}

func TestJiraClient_ListChanged_MaxBatch(t *testing.T) {
	server := jiraTestServer(t)
	client := NewJiraClient(server.Client(), "test-agent")

	acct := jiraAccount(server.URL)
	acct.MaxBatch = 2
	descs, err := client.ListChanged(context.Background(), acct, nil)
	if err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if len(descs) != 2 {
		t.Errorf("Expected batch capped at 2, got %d", len(descs))
	}
}

func TestJiraClient_ListChanged_AuthRejected(t *testing.T) {
	server := jiraTestServer(t)
	client := NewJiraClient(server.Client(), "test-agent")

	acct := jiraAccount(server.URL)
	acct.Token = "wrong"
	_, err := client.ListChanged(context.Background(), acct, nil)
	if !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth for 401, got %v", err)
	}
}

func TestJiraClient_FetchFull_RendersIssue(t *testing.T) {
	server := jiraTestServer(t)
	client := NewJiraClient(server.Client(), "test-agent")

	raw, err := client.FetchFull(context.Background(), jiraAccount(server.URL), Descriptor{ExternalKey: "ABC-1"})
	if err != nil {
		t.Fatalf("FetchFull failed: %v", err)
	}

	text := string(raw)
	for _, want := range []string{"First issue", "Something is broken in the poller.", "Dana: Reproduced on staging."} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected rendered issue to contain %q, got:\n%s", want, text)
		}
	}
}

func TestJiraClient_SinceGoesIntoJQL(t *testing.T) {
	var gotJQL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		json.NewEncoder(w).Encode(map[string]any{"total": 0, "issues": []any{}})
	}))
	defer server.Close()

	client := NewJiraClient(server.Client(), "test-agent")
	since := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	if _, err := client.ListChanged(context.Background(), jiraAccount(server.URL), &since); err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if !strings.Contains(gotJQL, `updated >= "2025-06-01 08:30"`) {
		t.Errorf("Expected since clause in JQL, got %q", gotJQL)
	}
}
