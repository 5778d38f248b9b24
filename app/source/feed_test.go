package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Engineering Blog</title>
	<item>
		<title>First Post</title>
		<link>%s/articles/first</link>
		<guid>post-1</guid>
		<pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
	</item>
	<item>
		<title>Second Post</title>
		<link>%s/articles/second</link>
		<guid>post-2</guid>
		<pubDate>Mon, 09 Jun 2025 10:00:00 GMT</pubDate>
	</item>
</channel>
</rss>`

func feedTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testFeed, server.URL, server.URL)
	})
	mux.HandleFunc("/articles/first", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>First Post</title></head><body><article><p>
			A long enough body of article text for the extraction step to find and keep,
			describing the first post in reasonable detail for readers.
		</p></article></body></html>`))
	})
	mux.HandleFunc("/articles/secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func feedAccount(url string) *Account {
	return &Account{
		ID:         "conn-1",
		Name:       "blog",
		SourceType: "feed",
		BaseURL:    url + "/feed.xml",
		MaxBatch:   100,
	}
}

func TestFeedClient_ListChanged(t *testing.T) {
	server := feedTestServer(t)
	client := NewFeedClient(server.Client(), "test-agent")

	descs, err := client.ListChanged(context.Background(), feedAccount(server.URL), nil)
	if err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(descs))
	}
	if descs[0].ExternalKey != "post-1" {
		t.Errorf("Expected guid as external key, got %s", descs[0].ExternalKey)
	}
	if descs[0].Version == "" || descs[0].Version == descs[1].Version {
		t.Error("Each entry needs a distinct change token")
	}
	if descs[0].Title != "First Post" {
		t.Errorf("Unexpected title: %s", descs[0].Title)
	}
}

func TestFeedClient_ListChanged_SinceFilter(t *testing.T) {
	server := feedTestServer(t)
	client := NewFeedClient(server.Client(), "test-agent")

	since := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	descs, err := client.ListChanged(context.Background(), feedAccount(server.URL), &since)
	if err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if len(descs) != 1 || descs[0].ExternalKey != "post-2" {
		t.Errorf("Expected only the entry after the sync mark, got %v", descs)
	}
}

func TestFeedClient_ListChanged_MaxBatch(t *testing.T) {
	server := feedTestServer(t)
	client := NewFeedClient(server.Client(), "test-agent")

	acct := feedAccount(server.URL)
	acct.MaxBatch = 1
	descs, err := client.ListChanged(context.Background(), acct, nil)
	if err != nil {
		t.Fatalf("ListChanged failed: %v", err)
	}
	if len(descs) != 1 {
		t.Errorf("Expected batch capped at 1, got %d", len(descs))
	}
}

func TestFeedClient_FetchFull_AuthError(t *testing.T) {
	server := feedTestServer(t)
	client := NewFeedClient(server.Client(), "test-agent")

	_, err := client.FetchFull(context.Background(), feedAccount(server.URL), Descriptor{
		ExternalKey: "post-3",
		URL:         server.URL + "/articles/secret",
	})
	if !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth for 403, got %v", err)
	}
}

func TestFeedAdapter_ProcessExtractsArticle(t *testing.T) {
	server := feedTestServer(t)
	client := NewFeedClient(server.Client(), "test-agent")
	adapter := NewFeedAdapter(client)

	if adapter.Type() != "feed" {
		t.Errorf("Unexpected adapter type: %s", adapter.Type())
	}
	if adapter.TaskType() != "qualify_article" {
		t.Errorf("Unexpected task type: %s", adapter.TaskType())
	}

	raw, err := client.FetchFull(context.Background(), feedAccount(server.URL), Descriptor{
		ExternalKey: "post-1",
		URL:         server.URL + "/articles/first",
	})
	if err != nil {
		t.Fatalf("FetchFull failed: %v", err)
	}

	res, err := adapter.Process(context.Background(), testItem("post-1"), raw)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Text == "" {
		t.Error("Expected extracted article text")
	}
	if !adapter.ShouldCreateTask(testItem("post-1"), res) {
		t.Error("Expected a task for non-empty text")
	}
}
