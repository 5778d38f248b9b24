// Package poller discovers changed items across all active connections on a
// fixed interval and records them for the indexing engines to pick up.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jervisd/jervis/app/database"
	"github.com/jervisd/jervis/app/source"
)

// AccountResolver maps a connection id to its resolved account.
type AccountResolver interface {
	Resolve(ctx context.Context, connectionID string) (*source.Account, error)
}

type Config struct {
	// Interval between poll cycles. Default: 30 minutes.
	Interval time.Duration
	// InitialDelay before the first cycle, so the process settles (config
	// loaded, migrations applied) before hitting external systems.
	InitialDelay time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
}

// Poller walks active connections in least-recently-polled order and upserts
// every changed item. One cycle runs at a time; a tick that arrives while a
// cycle is still running is skipped.
type Poller struct {
	conns    database.ConnectionRepository
	items    database.ItemRepository
	resolver AccountResolver
	clients  map[string]source.Client
	config   Config
	running  atomic.Bool
}

func NewPoller(conns database.ConnectionRepository, items database.ItemRepository,
	resolver AccountResolver, clients map[string]source.Client, config Config) *Poller {
	config.defaults()
	return &Poller{
		conns:    conns,
		items:    items,
		resolver: resolver,
		clients:  clients,
		config:   config,
	}
}

func (p *Poller) Run(ctx context.Context) {
	if p.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.config.InitialDelay):
		}
	}

	p.tick(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		slog.Warn("Poll cycle still running, skipping tick")
		return
	}
	defer p.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Poll cycle panic", "panic", r)
		}
	}()

	conns, err := p.conns.ListActive(ctx)
	if err != nil {
		slog.Error("Failed to list active connections", "error", err)
		return
	}
	if len(conns) == 0 {
		slog.Debug("No active connections to poll")
		return
	}

	slog.Info("Poll cycle started", "connections", len(conns))
	for _, conn := range conns {
		if ctx.Err() != nil {
			return
		}
		p.pollConnection(ctx, conn)
	}
	slog.Info("Poll cycle finished", "connections", len(conns))
}

// pollConnection syncs one connection. Discovery errors are recorded on the
// connection and never abort the cycle; the sync cursor only advances when
// the whole batch was stored.
func (p *Poller) pollConnection(ctx context.Context, conn database.Connection) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection poll panic", "connection", conn.Name, "panic", r)
		}
	}()

	now := time.Now()
	if err := p.conns.TouchPolled(ctx, conn.ID, now); err != nil {
		slog.Error("Failed to record poll time", "connection", conn.Name, "error", err)
	}

	client, ok := p.clients[conn.SourceType]
	if !ok {
		p.recordError(ctx, conn, fmt.Sprintf("no client for source type %s", conn.SourceType))
		return
	}

	acct, err := p.resolver.Resolve(ctx, conn.ID)
	if err != nil {
		p.recordError(ctx, conn, fmt.Sprintf("account resolution failed: %v", err))
		return
	}

	descs, err := client.ListChanged(ctx, acct, conn.LastSyncedAt)
	if err != nil {
		if errors.Is(err, source.ErrAuth) {
			slog.Error("Authentication rejected, invalidating connection", "connection", conn.Name, "error", err)
			if mErr := p.conns.MarkInvalid(ctx, conn.ID, err.Error()); mErr != nil {
				slog.Error("Failed to invalidate connection", "connection", conn.Name, "error", mErr)
			}
			return
		}
		p.recordError(ctx, conn, fmt.Sprintf("listing changed items failed: %v", err))
		return
	}

	created, reset, failed := 0, 0, 0
	for _, desc := range descs {
		outcome, err := p.items.UpsertDiscovered(ctx, database.Item{
			SourceType:   conn.SourceType,
			ConnectionID: conn.ID,
			ExternalKey:  desc.ExternalKey,
			ExternalURL:  desc.URL,
			Version:      desc.Version,
			Title:        desc.Title,
		})
		if err != nil {
			failed++
			slog.Warn("Failed to record discovered item", "connection", conn.Name, "key", desc.ExternalKey, "error", err)
			continue
		}
		switch outcome {
		case database.UpsertCreated:
			created++
		case database.UpsertReset:
			reset++
		}
	}

	if failed > 0 {
		// Keep the cursor where it was so the missed items reappear in
		// the next listing.
		p.recordError(ctx, conn, fmt.Sprintf("%d of %d discovered items could not be recorded", failed, len(descs)))
		return
	}

	if err := p.conns.AdvanceSynced(ctx, conn.ID, now); err != nil {
		slog.Error("Failed to advance sync cursor", "connection", conn.Name, "error", err)
		return
	}

	slog.Info("Connection polled", "connection", conn.Name, "source", conn.SourceType,
		"discovered", len(descs), "created", created, "reset", reset)
}

func (p *Poller) recordError(ctx context.Context, conn database.Connection, message string) {
	slog.Warn("Connection poll failed", "connection", conn.Name, "reason", message)
	if err := p.conns.RecordError(ctx, conn.ID, message); err != nil {
		slog.Error("Failed to record connection error", "connection", conn.Name, "error", err)
	}
}
