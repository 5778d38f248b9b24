package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gitLogFormat renders one commit per record: hash, subject, committer date,
// unit-separated, record-separated.
const gitLogFormat = "%H%x1f%s%x1f%cI%x1e"

// GitClient lists commits from bare mirrors kept under a local directory,
// one mirror per connection. A mirror that has not been cloned yet reports
// ErrNotReady for fetches, so commits stay queued until the clone lands.
type GitClient struct {
	mirrorsDir string
}

func NewGitClient(mirrorsDir string) *GitClient {
	return &GitClient{mirrorsDir: mirrorsDir}
}

func (c *GitClient) mirrorPath(acct *Account) string {
	return filepath.Join(c.mirrorsDir, acct.Name+".git")
}

func (c *GitClient) ListChanged(ctx context.Context, acct *Account, since *time.Time) ([]Descriptor, error) {
	if acct.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, acct.Timeout)
		defer cancel()
	}

	path := c.mirrorPath(acct)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(c.mirrorsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mirrors directory: %w", err)
		}
		if _, err := runGit(ctx, "", "clone", "--mirror", acct.BaseURL, path); err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", acct.BaseURL, err)
		}
	} else if _, err := runGit(ctx, path, "fetch", "--prune", "--quiet"); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", acct.BaseURL, err)
	}

	args := []string{"log", "--all", "--pretty=format:" + gitLogFormat}
	if since != nil {
		args = append(args, "--since="+since.UTC().Format(time.RFC3339))
	}
	if acct.MaxBatch > 0 {
		args = append(args, fmt.Sprintf("--max-count=%d", acct.MaxBatch))
	}

	out, err := runGit(ctx, path, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}

	var descs []Descriptor
	for _, record := range strings.Split(out, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, "\x1f", 3)
		if len(fields) != 3 {
			continue
		}
		// Commits are immutable: the hash is both identity and version.
		desc := Descriptor{
			ExternalKey: fields[0],
			Version:     fields[0],
			Title:       fields[1],
		}
		if at, err := time.Parse(time.RFC3339, fields[2]); err == nil {
			desc.UpdatedAt = at
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

// FetchFull returns the commit message plus patch text.
func (c *GitClient) FetchFull(ctx context.Context, acct *Account, desc Descriptor) ([]byte, error) {
	path := c.mirrorPath(acct)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("mirror for %s absent: %w", acct.Name, ErrNotReady)
	}

	if acct.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, acct.Timeout)
		defer cancel()
	}

	out, err := runGit(ctx, path, "show", "--no-color", "--stat", "--patch",
		"--format=%s%n%n%b", desc.ExternalKey)
	if err != nil {
		return nil, fmt.Errorf("failed to show commit %s: %w", desc.ExternalKey, err)
	}
	return []byte(out), nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}
