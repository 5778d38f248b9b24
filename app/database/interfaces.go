package database

import (
	"context"
	"time"
)

// UpsertOutcome reports what UpsertDiscovered did with a discovered item.
type UpsertOutcome int

const (
	UpsertCreated   UpsertOutcome = iota // item was unknown, inserted as new
	UpsertReset                          // version changed, reset to new for reprocessing
	UpsertUnchanged                      // version matches the stored one, left alone
)

type ItemRepository interface {
	// UpsertDiscovered inserts a discovered item as new, or resets an
	// existing one to new when its change token differs. An item whose
	// stored version matches the discovered one is never re-enqueued.
	UpsertDiscovered(ctx context.Context, item Item) (UpsertOutcome, error)

	// ListNew returns items in state new, oldest discovery first.
	// The query is restartable: callers re-issue it to continue.
	ListNew(ctx context.Context, sourceType string, limit int) ([]Item, error)

	// MarkIndexing atomically transitions new -> indexing and sets the
	// lease expiry. Returns ErrAlreadyLeased if the item is not in state
	// new, so racing callers resolve deterministically.
	MarkIndexing(ctx context.Context, itemID string, leaseFor time.Duration) error

	MarkIndexed(ctx context.Context, itemID string, title, content string) error
	MarkFailed(ctx context.Context, itemID string, reason string) error

	// ReleaseLease returns an indexing item to new without counting a
	// failure. Used when content is not ready yet.
	ReleaseLease(ctx context.Context, itemID string) error

	// ResetExpiredLeases returns abandoned indexing items (lease expired
	// before now) to new and counts the attempt. Returns how many items
	// were reclaimed.
	ResetExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	// ResetForRetry is the operator-triggered failed -> new transition.
	ResetForRetry(ctx context.Context, itemID string) error

	GetItem(ctx context.Context, itemID string) (*Item, error)
	ListItems(ctx context.Context, sourceType, state string, limit int) ([]Item, error)
	CountByState(ctx context.Context, sourceType string) (map[string]int, error)
}

type ConnectionRepository interface {
	// UpsertConnection registers a connection by name, updating source
	// type and base URL if the definition changed.
	UpsertConnection(ctx context.Context, sourceType, name, baseURL string) (string, error)

	GetConnection(ctx context.Context, id string) (*Connection, error)
	GetConnectionByName(ctx context.Context, name string) (*Connection, error)

	// ListActive returns active connections ordered by last_polled_at,
	// oldest (or never polled) first, so no connection starves.
	ListActive(ctx context.Context) ([]Connection, error)
	ListAll(ctx context.Context) ([]Connection, error)

	TouchPolled(ctx context.Context, id string, at time.Time) error
	AdvanceSynced(ctx context.Context, id string, at time.Time) error
	RecordError(ctx context.Context, id string, message string) error
	MarkInvalid(ctx context.Context, id string, reason string) error
	Activate(ctx context.Context, id string) error
}

type TaskRepository interface {
	// CreateTask inserts a pending task unless one with the same
	// correlation id already exists in a non-terminal state. A terminal
	// (done or failed) task with the same correlation id is refreshed
	// back to pending with the new content. Returns whether a task was
	// created or refreshed.
	CreateTask(ctx context.Context, task PendingTask) (bool, error)

	GetTaskByCorrelationID(ctx context.Context, correlationID string) (*PendingTask, error)
	ListPending(ctx context.Context, limit int) ([]PendingTask, error)
	MarkTaskDone(ctx context.Context, id string) error
	MarkTaskFailed(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}
