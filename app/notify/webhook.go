package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// WebhookSink POSTs events as JSON to a configured URL. Each publish runs in
// its own goroutine with a short timeout; failures are logged and dropped.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookSink{url: url, client: client}
}

func (s *WebhookSink) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	go func() {
		body, err := json.Marshal(event)
		if err != nil {
			slog.Warn("Failed to marshal notification", "kind", event.Kind, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("Failed to build notification request", "kind", event.Kind, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Debug("Notification dropped", "kind", event.Kind, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
