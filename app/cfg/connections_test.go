package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConnFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write connection file: %v", err)
	}
}

func TestLoadConn_ParsesAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConnFile(t, dir, "team-jira", `source: jira
base_url: https://jira.example.com
enabled: true
credentials:
  username: bot
  token_env: JIRA_TOKEN
`)

	cc := NewConnCache(dir)
	conn, err := cc.LoadConn("team-jira")
	if err != nil {
		t.Fatalf("LoadConn failed: %v", err)
	}

	if conn.Name != "team-jira" {
		t.Errorf("Expected name from filename, got %s", conn.Name)
	}
	if conn.Source != SourceJira {
		t.Errorf("Unexpected source %s", conn.Source)
	}
	if !conn.Enabled {
		t.Error("Expected connection enabled")
	}
	if conn.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", conn.Settings.Timeout)
	}
	if conn.Settings.MaxBatch != 200 {
		t.Errorf("Expected default max batch 200, got %d", conn.Settings.MaxBatch)
	}
}

func TestLoadConn_RejectsUnknownSource(t *testing.T) {
	dir := t.TempDir()
	writeConnFile(t, dir, "bad", `source: gopher
base_url: https://example.com
`)

	cc := NewConnCache(dir)
	if _, err := cc.LoadConn("bad"); err == nil {
		t.Error("Expected error for unknown source type")
	}
}

func TestLoadConn_RequiresBaseURL(t *testing.T) {
	dir := t.TempDir()
	writeConnFile(t, dir, "bad", `source: jira
enabled: true
`)

	cc := NewConnCache(dir)
	if _, err := cc.LoadConn("bad"); err == nil {
		t.Error("Expected error for missing base URL")
	}
}

func TestConnCredentials_TokenFromEnvironment(t *testing.T) {
	creds := ConnCredentials{TokenEnv: "TEST_CONN_TOKEN"}
	t.Setenv("TEST_CONN_TOKEN", "s3cret")
	if got := creds.Token(); got != "s3cret" {
		t.Errorf("Expected token from environment, got %q", got)
	}

	empty := ConnCredentials{}
	if got := empty.Token(); got != "" {
		t.Errorf("Expected empty token without token_env, got %q", got)
	}
}

func TestRun_LoadsAllConnectionFiles(t *testing.T) {
	dir := t.TempDir()
	writeConnFile(t, dir, "team-jira", `source: jira
base_url: https://jira.example.com
enabled: true
`)
	writeConnFile(t, dir, "old-wiki", `source: confluence
base_url: https://wiki.example.com
enabled: false
`)

	cc := NewConnCache(dir)
	if err := cc.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if cc.GetConnCount() != 2 {
		t.Errorf("Expected 2 loaded connections, got %d", cc.GetConnCount())
	}

	enabled := cc.GetEnabledConns()
	if len(enabled) != 1 {
		t.Fatalf("Expected 1 enabled connection, got %d", len(enabled))
	}
	if _, ok := enabled["team-jira"]; !ok {
		t.Error("Expected team-jira among enabled connections")
	}
}

func TestRun_MissingDirectoryIsNotAnError(t *testing.T) {
	cc := NewConnCache(filepath.Join(t.TempDir(), "does-not-exist"))
	if err := cc.Run(); err != nil {
		t.Errorf("Run should tolerate a missing directory, got %v", err)
	}
}

func TestGetConn_UnknownName(t *testing.T) {
	cc := NewConnCache(t.TempDir())
	if _, err := cc.GetConn("nope"); err == nil {
		t.Error("Expected error for unknown connection name")
	}
}
