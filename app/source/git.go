package source

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

// GitAdapter indexes commits. Raw content is the commit message plus patch
// text as produced by the git client; a repository mirror that has not been
// cloned yet reports ErrNotReady and the commit stays queued.
type GitAdapter struct {
	client Client
}

func NewGitAdapter(client Client) *GitAdapter {
	return &GitAdapter{client: client}
}

func (a *GitAdapter) Type() string { return cfg.SourceGit }

func (a *GitAdapter) FetchContent(ctx context.Context, item *database.Item, acct *Account) ([]byte, error) {
	raw, err := a.client.FetchFull(ctx, acct, descriptorOf(item))
	if errors.Is(err, ErrNotReady) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commit %s: %w", item.ExternalKey, err)
	}
	return raw, nil
}

func (a *GitAdapter) Process(ctx context.Context, item *database.Item, raw []byte) (Result, error) {
	text := NormalizeText(string(raw))
	if text == "" {
		return Result{}, fmt.Errorf("commit %s has no content", item.ExternalKey)
	}
	return Result{
		Title: cmp.Or(firstLine(text), item.ExternalKey),
		Text:  text,
	}, nil
}

func (a *GitAdapter) ShouldCreateTask(item *database.Item, res Result) bool {
	return res.Text != ""
}

func (a *GitAdapter) TaskType() string { return "qualify_commit" }
