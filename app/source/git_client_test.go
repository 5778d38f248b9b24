package source

import (
	"context"
	"errors"
	"testing"
)

func TestGitClient_FetchFull_MissingMirrorNotReady(t *testing.T) {
	client := NewGitClient(t.TempDir())
	adapter := NewGitAdapter(client)

	acct := &Account{
		ID:         "conn-3",
		Name:       "platform-repo",
		SourceType: "git",
		BaseURL:    "https://git.example.com/platform.git",
	}

	_, err := client.FetchFull(context.Background(), acct, Descriptor{ExternalKey: "deadbeef"})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Expected ErrNotReady for absent mirror, got %v", err)
	}

	// The adapter maps not-ready to (nil, nil) so the item stays queued.
	raw, err := adapter.FetchContent(context.Background(), testItem("deadbeef"), acct)
	if err != nil {
		t.Errorf("Expected no error from adapter for not-ready content, got %v", err)
	}
	if raw != nil {
		t.Error("Expected nil content for not-ready mirror")
	}
}

func TestGitAdapter_ProcessUsesSubjectAsTitle(t *testing.T) {
	adapter := NewGitAdapter(NewGitClient(t.TempDir()))

	raw := []byte("fix: tighten lease handling\n\nCovers the sweeper race.\n\n fileA | 2 +-\n")
	res, err := adapter.Process(context.Background(), testItem("deadbeef"), raw)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Title != "fix: tighten lease handling" {
		t.Errorf("Expected subject line as title, got %q", res.Title)
	}

	if _, err := adapter.Process(context.Background(), testItem("deadbeef"), []byte("   \n\n")); err == nil {
		t.Error("Expected error for empty commit content")
	}
}
