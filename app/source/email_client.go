package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// EmailClient lists mailbox messages over IMAP. Messages are immutable, so
// the UID doubles as the change token. One short-lived connection per call;
// the poll interval makes persistent sessions not worth their failure modes.
type EmailClient struct{}

func NewEmailClient() *EmailClient {
	return &EmailClient{}
}

// mailboxOf parses a base URL of the form imaps://host[:port]/[mailbox].
func mailboxOf(baseURL string) (addr, mailbox string, err error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid mailbox URL %s: %w", baseURL, err)
	}
	if u.Scheme != "imaps" {
		return "", "", fmt.Errorf("unsupported mailbox scheme %q", u.Scheme)
	}

	addr = u.Host
	if u.Port() == "" {
		addr += ":993"
	}

	mailbox = strings.Trim(u.Path, "/")
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return addr, mailbox, nil
}

func (c *EmailClient) connect(acct *Account) (*imapclient.Client, string, error) {
	addr, mailbox, err := mailboxOf(acct.BaseURL)
	if err != nil {
		return nil, "", err
	}

	conn, err := imapclient.DialTLS(addr, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := conn.Login(acct.Username, acct.Token).Wait(); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("login to %s rejected: %w", addr, ErrAuth)
	}

	if _, err := conn.Select(mailbox, nil).Wait(); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("failed to select %s: %w", mailbox, err)
	}

	return conn, mailbox, nil
}

func (c *EmailClient) ListChanged(ctx context.Context, acct *Account, since *time.Time) ([]Descriptor, error) {
	conn, _, err := c.connect(acct)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer conn.Logout()

	criteria := &imap.SearchCriteria{}
	if since != nil {
		criteria.Since = *since
	}

	searchData, err := conn.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("mailbox search failed: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if acct.MaxBatch > 0 && len(uids) > acct.MaxBatch {
		uids = uids[:acct.MaxBatch]
	}

	messages, err := conn.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch envelopes: %w", err)
	}

	descs := make([]Descriptor, 0, len(messages))
	for _, msg := range messages {
		uid := strconv.FormatUint(uint64(msg.UID), 10)
		desc := Descriptor{
			ExternalKey: uid,
			Version:     uid,
		}
		if msg.Envelope != nil {
			desc.Title = msg.Envelope.Subject
			desc.UpdatedAt = msg.Envelope.Date
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// FetchFull downloads the raw message and renders its readable parts as
// plain text: headers of interest, then text/plain parts verbatim and
// text/html parts through readability extraction.
func (c *EmailClient) FetchFull(ctx context.Context, acct *Account, desc Descriptor) ([]byte, error) {
	n, err := strconv.ParseUint(desc.ExternalKey, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message UID %q: %w", desc.ExternalKey, err)
	}

	conn, _, err := c.connect(acct)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer conn.Logout()

	section := &imap.FetchItemBodySection{}
	messages, err := conn.Fetch(imap.UIDSetNum(imap.UID(n)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", desc.ExternalKey, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %s not found", desc.ExternalKey)
	}

	raw := messages[0].FindBodySection(section)
	if len(raw) == 0 {
		return nil, fmt.Errorf("message %s has no body", desc.ExternalKey)
	}

	return renderMessage(raw)
}

func renderMessage(raw []byte) ([]byte, error) {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	var b strings.Builder
	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		b.WriteString(subject)
		b.WriteString("\n\n")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		b.WriteString("From: ")
		b.WriteString(from[0].String())
		b.WriteString("\n")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}

		switch contentType {
		case "text/plain":
			b.WriteString("\n")
			b.Write(body)
		case "text/html":
			if _, text, err := ExtractPlainText(body); err == nil {
				b.WriteString("\n")
				b.WriteString(text)
			}
		}
	}

	return []byte(b.String()), nil
}
