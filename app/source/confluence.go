package source

import (
	"cmp"
	"context"
	"fmt"

	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

// ConfluenceAdapter indexes wiki pages. Raw content is the page's storage
// HTML; the change token is the page version number, so an unchanged page is
// never re-enqueued by polling.
type ConfluenceAdapter struct {
	client Client
}

func NewConfluenceAdapter(client Client) *ConfluenceAdapter {
	return &ConfluenceAdapter{client: client}
}

func (a *ConfluenceAdapter) Type() string { return cfg.SourceConfluence }

func (a *ConfluenceAdapter) FetchContent(ctx context.Context, item *database.Item, acct *Account) ([]byte, error) {
	raw, err := a.client.FetchFull(ctx, acct, descriptorOf(item))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %s: %w", item.ExternalKey, err)
	}
	return raw, nil
}

func (a *ConfluenceAdapter) Process(ctx context.Context, item *database.Item, raw []byte) (Result, error) {
	title, text, err := ExtractPlainText(raw)
	if err != nil {
		return Result{}, fmt.Errorf("page %s: %w", item.ExternalKey, err)
	}
	return Result{
		Title: cmp.Or(item.Title, title, item.ExternalKey),
		Text:  text,
	}, nil
}

func (a *ConfluenceAdapter) ShouldCreateTask(item *database.Item, res Result) bool {
	return res.Text != ""
}

func (a *ConfluenceAdapter) TaskType() string { return "qualify_page" }
