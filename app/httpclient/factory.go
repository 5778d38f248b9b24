// Package httpclient builds HTTP clients whose every outbound request passes
// through the domain rate limiter. Call sites get rate limiting for free:
// there is no opt-in to forget.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxResponseBody caps how much of a remote response Fetch reads (10 MiB).
const maxResponseBody int64 = 10 << 20

// Limiter is the permit gate consulted before each outbound request.
type Limiter interface {
	Acquire(ctx context.Context, rawURL string) error
	Report(host string, statusCode int)
}

type Options struct {
	// ConnectTimeout bounds TCP dialing. Default: 30s.
	ConnectTimeout time.Duration
	// RequestTimeout bounds the whole request including body. Default: 60s.
	RequestTimeout time.Duration
	// MaxConnsPerHost bounds concurrent connections to one host. Default: 1000.
	MaxConnsPerHost int
	// MaxIdleConns bounds the idle pool. Default: 100.
	MaxIdleConns int
}

func (o *Options) defaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = 1000
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 100
	}
}

// Factory builds rate-limited *http.Client values sharing one limiter.
type Factory struct {
	limiter Limiter
}

func NewFactory(limiter Limiter) *Factory {
	return &Factory{limiter: limiter}
}

// New returns a client whose transport acquires a domain permit before every
// request and reports each response status back to the limiter. Non-2xx
// statuses are not errors; callers inspect them explicitly.
func (f *Factory) New(opts Options) *http.Client {
	opts.defaults()

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout: opts.RequestTimeout,
		Transport: &limitedTransport{
			limiter: f.limiter,
			base:    base,
		},
	}
}

type limitedTransport struct {
	limiter Limiter
	base    http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Acquire(req.Context(), req.URL.String()); err != nil {
		return nil, fmt.Errorf("rate limit acquire: %w", err)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	t.limiter.Report(req.URL.Hostname(), resp.StatusCode)
	return resp, nil
}

// Fetch issues a GET and returns the status code and a size-capped body.
// Transport failures are errors; HTTP-level failures are not.
func Fetch(ctx context.Context, client *http.Client, url, userAgent string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}
