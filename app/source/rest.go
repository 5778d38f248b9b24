package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxAPIResponse caps how much of an API response gets read (10 MiB).
const maxAPIResponse int64 = 10 << 20

// getJSON issues an authenticated GET and decodes the JSON response into out.
// 401/403 wrap ErrAuth so callers escalate instead of retrying.
func getJSON(ctx context.Context, client *http.Client, acct *Account, url, userAgent string, out any) error {
	if acct.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, acct.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if acct.Username != "" || acct.Token != "" {
		req.SetBasicAuth(acct.Username, acct.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("fetching %s: HTTP %d: %w", url, resp.StatusCode, ErrAuth)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
