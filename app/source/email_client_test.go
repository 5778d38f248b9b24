package source

import (
	"strings"
	"testing"
)

func TestMailboxOf(t *testing.T) {
	addr, mailbox, err := mailboxOf("imaps://imap.example.com/Archive")
	if err != nil {
		t.Fatalf("mailboxOf failed: %v", err)
	}
	if addr != "imap.example.com:993" {
		t.Errorf("Expected default IMAPS port appended, got %s", addr)
	}
	if mailbox != "Archive" {
		t.Errorf("Expected mailbox from path, got %s", mailbox)
	}

	addr, mailbox, err = mailboxOf("imaps://mail.example.com:1993")
	if err != nil {
		t.Fatalf("mailboxOf failed: %v", err)
	}
	if addr != "mail.example.com:1993" {
		t.Errorf("Expected explicit port kept, got %s", addr)
	}
	if mailbox != "INBOX" {
		t.Errorf("Expected INBOX default, got %s", mailbox)
	}

	if _, _, err := mailboxOf("http://mail.example.com"); err == nil {
		t.Error("Expected error for non-imaps scheme")
	}
}

func TestRenderMessage_PlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: Dana <dana@example.com>",
		"To: team@example.com",
		"Subject: Deployment window moved",
		"Date: Mon, 02 Jun 2025 10:00:00 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"The deployment moves to Thursday. Update your calendars.",
		"",
	}, "\r\n")

	text, err := renderMessage([]byte(raw))
	if err != nil {
		t.Fatalf("renderMessage failed: %v", err)
	}

	got := string(text)
	if !strings.Contains(got, "Deployment window moved") {
		t.Errorf("Expected subject in rendered text, got %q", got)
	}
	if !strings.Contains(got, "dana@example.com") {
		t.Errorf("Expected sender in rendered text, got %q", got)
	}
	if !strings.Contains(got, "moves to Thursday") {
		t.Errorf("Expected body in rendered text, got %q", got)
	}
}

func TestRenderMessage_MultipartPrefersReadableParts(t *testing.T) {
	raw := strings.Join([]string{
		"From: alerts@example.com",
		"Subject: Weekly digest",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="sep"`,
		"",
		"--sep",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Plain digest body.",
		"--sep",
		"Content-Type: application/octet-stream",
		"Content-Disposition: attachment; filename=report.bin",
		"",
		"binarybytes",
		"--sep--",
		"",
	}, "\r\n")

	text, err := renderMessage([]byte(raw))
	if err != nil {
		t.Fatalf("renderMessage failed: %v", err)
	}

	got := string(text)
	if !strings.Contains(got, "Plain digest body.") {
		t.Errorf("Expected plain part rendered, got %q", got)
	}
	if strings.Contains(got, "binarybytes") {
		t.Errorf("Attachment content must not be rendered, got %q", got)
	}
}
