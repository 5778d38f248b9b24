package source

import (
	"cmp"
	"context"
	"fmt"

	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

// EmailAdapter indexes mailbox messages by IMAP UID. The client delivers the
// decoded message body as UTF-8 text; messages are immutable, so the UID
// itself doubles as the change token.
type EmailAdapter struct {
	client Client
}

func NewEmailAdapter(client Client) *EmailAdapter {
	return &EmailAdapter{client: client}
}

func (a *EmailAdapter) Type() string { return cfg.SourceEmail }

func (a *EmailAdapter) FetchContent(ctx context.Context, item *database.Item, acct *Account) ([]byte, error) {
	raw, err := a.client.FetchFull(ctx, acct, descriptorOf(item))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", item.ExternalKey, err)
	}
	return raw, nil
}

func (a *EmailAdapter) Process(ctx context.Context, item *database.Item, raw []byte) (Result, error) {
	text := NormalizeText(string(raw))
	if text == "" {
		return Result{}, fmt.Errorf("message %s has no content", item.ExternalKey)
	}
	return Result{
		Title: cmp.Or(item.Title, firstLine(text)),
		Text:  text,
	}, nil
}

func (a *EmailAdapter) ShouldCreateTask(item *database.Item, res Result) bool {
	return res.Text != ""
}

func (a *EmailAdapter) TaskType() string { return "qualify_email" }
