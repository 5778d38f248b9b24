package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func confluenceTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content/search", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"id":      "1001",
					"title":   "Runbook",
					"version": map[string]any{"number": 7, "when": "2025-06-02T10:00:00.000+0000"},
					"_links":  map[string]any{"webui": "/spaces/OPS/pages/1001"},
				},
			},
			"size": 1,
		})
	})
	mux.HandleFunc("/rest/api/content/1001", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "1001",
			"title": "Runbook",
			"body": map[string]any{
				"storage": map[string]any{
					"value": "<h1>Runbook</h1><p>When the indexer stalls, check lease expiry first and only then restart workers.</p>",
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func confluenceAccount(url string) *Account {
	return &Account{
		ID:         "conn-2",
		Name:       "team-wiki",
		SourceType: "confluence",
		BaseURL:    url,
		Username:   "bot",
		Token:      "secret",
		MaxBatch:   100,
	}
}

func TestConfluenceClient_ListChanged(t *testing.T) {
	server := confluenceTestServer(t)
	client := NewConfluenceClient(server.Client(), "test-agent")

	descs, err := client.ListChanged(context.Background(), confluenceAccount(server.URL), nil)
	if err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("Expected 1 page, got %d", len(descs))
	}
	if descs[0].ExternalKey != "1001" {
		t.Errorf("Expected page id as key, got %s", descs[0].ExternalKey)
	}
	if descs[0].Version != "7" {
		t.Errorf("Expected version number as change token, got %s", descs[0].Version)
	}
	if !strings.HasSuffix(descs[0].URL, "/spaces/OPS/pages/1001") {
		t.Errorf("Unexpected page URL: %s", descs[0].URL)
	}
}

func TestConfluenceClient_AuthRejected(t *testing.T) {
	server := confluenceTestServer(t)
	client := NewConfluenceClient(server.Client(), "test-agent")

	acct := confluenceAccount(server.URL)
	acct.Username = ""
	acct.Token = ""
	_, err := client.ListChanged(context.Background(), acct, nil)
	if !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth for 403, got %v", err)
	}
}

func TestConfluenceClient_FetchFullThroughAdapter(t *testing.T) {
	server := confluenceTestServer(t)
	client := NewConfluenceClient(server.Client(), "test-agent")
	adapter := NewConfluenceAdapter(client)

	raw, err := adapter.FetchContent(context.Background(), testItem("1001"), confluenceAccount(server.URL))
	if err != nil {
		t.Fatalf("FetchContent failed: %v", err)
	}

	res, err := adapter.Process(context.Background(), testItem("1001"), raw)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(res.Text, "lease expiry") {
		t.Errorf("Expected page text extracted, got %q", res.Text)
	}
	if adapter.TaskType() != "qualify_page" {
		t.Errorf("Unexpected task type: %s", adapter.TaskType())
	}
}
