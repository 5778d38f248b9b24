// Package indexer drives items through the new -> indexing -> indexed|failed
// state machine. One engine runs per source type; per-source behavior is
// supplied by a source.Adapter.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jervisd/jervis/app/database"
	"github.com/jervisd/jervis/app/notify"
	"github.com/jervisd/jervis/app/source"
	"github.com/jervisd/jervis/app/tasks"
)

// AccountResolver resolves an item's connection to its credentials/config.
type AccountResolver interface {
	Resolve(ctx context.Context, connectionID string) (*source.Account, error)
}

type Config struct {
	// BufferSize bounds the in-flight queue between discovery and the
	// workers. A full buffer suspends intake (backpressure). Default: 128.
	BufferSize int
	// WorkerCount is how many items process concurrently. Default: 4.
	WorkerCount int
	// PollInterval is the delay between re-queries for new items when the
	// store had nothing. Default: 5s.
	PollInterval time.Duration
	// LeaseTimeout is how long a claimed item stays leased before the
	// sweeper may reclaim it. Default: 15 minutes.
	LeaseTimeout time.Duration
	// BatchSize is how many new items one store query returns. Default:
	// BufferSize.
	BatchSize int
}

func (c *Config) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 128
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 15 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.BufferSize
	}
}

// Engine is the generic continuous indexing pipeline for one source type.
type Engine struct {
	adapter  source.Adapter
	items    database.ItemRepository
	conns    database.ConnectionRepository
	emitter  *tasks.Emitter
	resolver AccountResolver
	sink     notify.Sink
	config   Config
}

func NewEngine(adapter source.Adapter, items database.ItemRepository,
	conns database.ConnectionRepository, emitter *tasks.Emitter,
	resolver AccountResolver, sink notify.Sink, config Config) *Engine {
	config.defaults()
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Engine{
		adapter:  adapter,
		items:    items,
		conns:    conns,
		emitter:  emitter,
		resolver: resolver,
		sink:     sink,
		config:   config,
	}
}

func (e *Engine) SourceType() string {
	return e.adapter.Type()
}

// Run executes the pipeline until ctx is cancelled: a producer re-queries
// the store for items in state new and feeds a bounded channel; workers
// lease, fetch, process, and settle each item. The channel send blocks when
// the buffer is full, so discovery can never outrun processing unboundedly.
func (e *Engine) Run(ctx context.Context) error {
	queue := make(chan database.Item, e.config.BufferSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		return e.produce(gctx, queue)
	})

	for i := 0; i < e.config.WorkerCount; i++ {
		g.Go(func() error {
			for item := range queue {
				e.processItem(gctx, item)
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) produce(ctx context.Context, queue chan<- database.Item) error {
	for {
		batch, err := e.items.ListNew(ctx, e.adapter.Type(), e.config.BatchSize)
		if err != nil {
			// Store errors are transient from the engine's point of
			// view; keep the loop alive and retry next cycle.
			slog.Warn("Failed to list new items", "source", e.adapter.Type(), "error", err)
			batch = nil
		}

		for _, item := range batch {
			select {
			case queue <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.config.PollInterval):
		}
	}
}

// processItem runs the full per-item chain. Errors are contained here: an
// item can fail, but the iteration never propagates a failure upward.
func (e *Engine) processItem(ctx context.Context, item database.Item) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic while indexing: %v", r)
			slog.Error("Indexing panic", "source", e.adapter.Type(), "item", item.ID, "panic", r)
			if err := e.items.MarkFailed(ctx, item.ID, reason); err != nil {
				slog.Error("Failed to mark panicked item failed", "item", item.ID, "error", err)
			}
		}
	}()

	err := e.items.MarkIndexing(ctx, item.ID, e.config.LeaseTimeout)
	if errors.Is(err, database.ErrAlreadyLeased) {
		slog.Debug("Item already leased, skipping", "source", e.adapter.Type(), "item", item.ID)
		return
	}
	if err != nil {
		slog.Warn("Failed to lease item", "source", e.adapter.Type(), "item", item.ID, "error", err)
		return
	}

	acct, err := e.resolver.Resolve(ctx, item.ConnectionID)
	if errors.Is(err, source.ErrConnectionInvalid) {
		// The connection was invalidated (usually by an auth rejection on
		// an earlier item); stop attempting its queue until an operator
		// reactivates it.
		slog.Debug("Connection invalid, releasing item", "source", e.adapter.Type(), "item", item.ID, "connection", item.ConnectionID)
		if relErr := e.items.ReleaseLease(ctx, item.ID); relErr != nil {
			slog.Error("Failed to release item on invalid connection", "item", item.ID, "error", relErr)
		}
		return
	}
	if errors.Is(err, source.ErrUnknownAccount) {
		// An orphaned item must not halt the stream; release it so the
		// sweep interval does not gate its retry once the definition
		// reappears.
		slog.Warn("Item has no account, releasing", "source", e.adapter.Type(), "item", item.ID, "connection", item.ConnectionID)
		if relErr := e.items.ReleaseLease(ctx, item.ID); relErr != nil {
			slog.Error("Failed to release orphaned item", "item", item.ID, "error", relErr)
		}
		return
	}
	if err != nil {
		e.fail(ctx, item, fmt.Sprintf("account resolution failed: %v", err))
		return
	}

	raw, err := e.adapter.FetchContent(ctx, &item, acct)
	if err != nil {
		if errors.Is(err, source.ErrAuth) {
			e.escalateAuth(ctx, acct, err)
		}
		e.fail(ctx, item, fmt.Sprintf("fetch failed: %v", err))
		return
	}
	if raw == nil {
		// Not ready yet; back to new for a later pass.
		slog.Debug("Content not ready, releasing", "source", e.adapter.Type(), "item", item.ID)
		if err := e.items.ReleaseLease(ctx, item.ID); err != nil {
			slog.Error("Failed to release not-ready item", "item", item.ID, "error", err)
		}
		return
	}

	res, err := e.adapter.Process(ctx, &item, raw)
	if err != nil {
		e.fail(ctx, item, fmt.Sprintf("processing failed: %v", err))
		return
	}

	if err := e.items.MarkIndexed(ctx, item.ID, res.Title, res.Text); err != nil {
		slog.Error("Failed to mark item indexed", "source", e.adapter.Type(), "item", item.ID, "error", err)
		return
	}

	if e.adapter.ShouldCreateTask(&item, res) {
		_, err := e.emitter.CreateTask(ctx, e.adapter.TaskType(), &item, tasks.Payload{
			SourceType:   item.SourceType,
			ConnectionID: item.ConnectionID,
			ExternalKey:  item.ExternalKey,
			ExternalURL:  item.ExternalURL,
			Title:        res.Title,
			Text:         res.Text,
		})
		if err != nil {
			slog.Error("Failed to create downstream task", "source", e.adapter.Type(), "item", item.ID, "error", err)
		}
	}

	slog.Info("Item indexed", "source", e.adapter.Type(), "item", item.ID, "key", item.ExternalKey)
	e.sink.Publish(notify.Event{
		Kind:         "item_indexed",
		SourceType:   item.SourceType,
		ConnectionID: item.ConnectionID,
		ItemID:       item.ID,
	})
}

func (e *Engine) fail(ctx context.Context, item database.Item, reason string) {
	slog.Warn("Item failed", "source", e.adapter.Type(), "item", item.ID, "key", item.ExternalKey, "reason", reason)
	if err := e.items.MarkFailed(ctx, item.ID, reason); err != nil {
		slog.Error("Failed to mark item failed", "item", item.ID, "error", err)
		return
	}
	e.sink.Publish(notify.Event{
		Kind:         "item_failed",
		SourceType:   item.SourceType,
		ConnectionID: item.ConnectionID,
		ItemID:       item.ID,
		Detail:       reason,
	})
}

// escalateAuth marks the connection invalid so no further items for it are
// attempted until an operator remediates.
func (e *Engine) escalateAuth(ctx context.Context, acct *source.Account, cause error) {
	slog.Error("Authentication rejected, invalidating connection", "connection", acct.Name, "error", cause)
	if err := e.conns.MarkInvalid(ctx, acct.ID, cause.Error()); err != nil {
		slog.Error("Failed to invalidate connection", "connection", acct.Name, "error", err)
	}
}
