// Package ratelimit gates outbound HTTP traffic per external domain.
//
// Every domain gets one shared bucket regardless of which source type is
// calling: Confluence and Jira on the same Atlassian tenant consume the same
// budget. Buckets move through three phases:
//
//	BURST     generous rate for the first N requests to a fresh domain
//	NORMAL    steady-state rate
//	SUSTAINED throttled rate entered after repeated 429 responses
//
// A sustained bucket only recovers to normal after a cool-down with no
// further congestion signals; it never returns to burst.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Phase int

const (
	PhaseBurst Phase = iota
	PhaseNormal
	PhaseSustained
)

func (p Phase) String() string {
	switch p {
	case PhaseBurst:
		return "burst"
	case PhaseNormal:
		return "normal"
	case PhaseSustained:
		return "sustained"
	default:
		return "unknown"
	}
}

type Config struct {
	// Permits per window for each phase.
	BurstRate     int
	NormalRate    int
	SustainedRate int
	// BurstRequests is how many total requests a domain serves at the
	// burst rate before narrowing to normal.
	BurstRequests int
	// CongestionThreshold is the number of 429 responses within one
	// window that pushes a domain to sustained.
	CongestionThreshold int
	// Cooldown is how long a sustained domain must stay congestion-free
	// before recovering to normal.
	Cooldown time.Duration
	// Window is the budget window. Default: 1 minute.
	Window time.Duration
}

func (c *Config) defaults() {
	if c.BurstRate <= 0 {
		c.BurstRate = 120
	}
	if c.NormalRate <= 0 {
		c.NormalRate = 60
	}
	if c.SustainedRate <= 0 {
		c.SustainedRate = 20
	}
	if c.BurstRequests <= 0 {
		c.BurstRequests = 100
	}
	if c.CongestionThreshold <= 0 {
		c.CongestionThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Minute
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

type bucket struct {
	mu            sync.Mutex
	phase         Phase
	windowStart   time.Time
	issued        int // permits granted in the current window
	total         int // requests ever granted for this domain
	congestion    int // 429s observed in the current window
	cooldownUntil time.Time
	lastUsed      time.Time
}

// Limiter is the process-wide per-domain permit gate. Safe for concurrent
// use; unrelated domains never block each other.
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	buckets map[string]*bucket
}

func NewLimiter(cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Acquire blocks until a permit for rawURL's domain is available or ctx is
// done. Private and loopback hosts are exempt and return immediately.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}
	if isPrivateHost(host) {
		return nil
	}

	b := l.bucket(host)
	for {
		wait, ok := b.tryAcquire(l.cfg, time.Now())
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Report feeds a response status back into the domain's bucket. A 429 is the
// congestion signal that drives the sustained phase.
func (l *Limiter) Report(host string, statusCode int) {
	if host == "" || isPrivateHost(host) {
		return
	}
	b := l.bucket(host)
	b.report(l.cfg, statusCode, time.Now())
}

// PhaseOf returns the current phase for a domain. Unknown domains are in
// the burst phase by definition.
func (l *Limiter) PhaseOf(host string) Phase {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if !ok {
		return PhaseBurst
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// StartGC launches a background goroutine that drops buckets idle for more
// than an hour. Stops when done is closed.
func (l *Limiter) StartGC(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.gc(time.Now())
			}
		}
	}()
}

func (l *Limiter) gc(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for host, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastUsed) > time.Hour
		b.mu.Unlock()
		if idle {
			delete(l.buckets, host)
		}
	}
}

func (l *Limiter) bucket(host string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	b = &bucket{phase: PhaseBurst, windowStart: time.Now(), lastUsed: time.Now()}
	l.buckets[host] = b
	return b
}

// tryAcquire grants a permit if the window budget allows, otherwise returns
// how long to wait before trying again.
func (b *bucket) tryAcquire(cfg Config, now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUsed = now
	b.rollWindow(cfg, now)

	limit := b.rate(cfg)
	if b.issued < limit {
		b.issued++
		b.total++
		if b.phase == PhaseBurst && b.total >= cfg.BurstRequests {
			b.phase = PhaseNormal
		}
		return 0, true
	}

	wait := b.windowStart.Add(cfg.Window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (b *bucket) report(cfg Config, statusCode int, now time.Time) {
	if statusCode != 429 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollWindow(cfg, now)
	b.congestion++
	if b.congestion >= cfg.CongestionThreshold && b.phase != PhaseSustained {
		b.phase = PhaseSustained
	}
	// Every congestion signal pushes recovery out.
	b.cooldownUntil = now.Add(cfg.Cooldown)
}

// rollWindow resets the per-window counters when the window has elapsed and
// handles the sustained -> normal recovery. Recovery never jumps to burst.
func (b *bucket) rollWindow(cfg Config, now time.Time) {
	if now.Sub(b.windowStart) < cfg.Window {
		return
	}
	b.windowStart = now
	b.issued = 0
	b.congestion = 0

	if b.phase == PhaseSustained && now.After(b.cooldownUntil) {
		b.phase = PhaseNormal
	}
}

func (b *bucket) rate(cfg Config) int {
	switch b.phase {
	case PhaseBurst:
		return cfg.BurstRate
	case PhaseSustained:
		return cfg.SustainedRate
	default:
		return cfg.NormalRate
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL has no host: %s", rawURL)
	}
	return strings.ToLower(host), nil
}

// isPrivateHost reports whether host is a loopback or private-network
// address. Only literal addresses and localhost are checked; no DNS lookup
// happens on the acquire path.
func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
