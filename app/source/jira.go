package source

import (
	"cmp"
	"context"
	"fmt"

	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

// JiraAdapter indexes issues. The client delivers the issue rendered as
// text (summary, description, comments); the change token is the issue's
// updated timestamp.
type JiraAdapter struct {
	client Client
}

func NewJiraAdapter(client Client) *JiraAdapter {
	return &JiraAdapter{client: client}
}

func (a *JiraAdapter) Type() string { return cfg.SourceJira }

func (a *JiraAdapter) FetchContent(ctx context.Context, item *database.Item, acct *Account) ([]byte, error) {
	raw, err := a.client.FetchFull(ctx, acct, descriptorOf(item))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", item.ExternalKey, err)
	}
	return raw, nil
}

func (a *JiraAdapter) Process(ctx context.Context, item *database.Item, raw []byte) (Result, error) {
	text := NormalizeText(string(raw))
	if text == "" {
		return Result{}, fmt.Errorf("issue %s has no content", item.ExternalKey)
	}
	return Result{
		Title: cmp.Or(item.Title, item.ExternalKey),
		Text:  text,
	}, nil
}

func (a *JiraAdapter) ShouldCreateTask(item *database.Item, res Result) bool {
	return res.Text != ""
}

func (a *JiraAdapter) TaskType() string { return "qualify_issue" }
