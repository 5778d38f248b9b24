package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyLeased is returned by MarkIndexing when the item is no longer in
// state new: another worker won the lease first.
var ErrAlreadyLeased = errors.New("item already leased")

// ErrItemNotFound is returned when an item id does not exist.
var ErrItemNotFound = errors.New("item not found")

const itemColumns = `id, source_type, connection_id, external_key, external_url,
	version, state, title, content, last_error, retry_count,
	last_attempt_at, lease_expires_at, correlation_id,
	discovered_at, indexed_at, created_at, updated_at`

// Unchanged reports whether a discovered change token matches the stored one.
// An empty discovered token always counts as changed: sources that cannot
// produce a token are reprocessed rather than silently skipped.
func Unchanged(stored, discovered string) bool {
	discovered = strings.TrimSpace(discovered)
	if discovered == "" {
		return false
	}
	return strings.TrimSpace(stored) == discovered
}

// CorrelationID derives the deterministic task-dedup key for an item.
func CorrelationID(sourceType, connectionID, externalKey string) string {
	return sourceType + ":" + connectionID + ":" + externalKey
}

type itemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) UpsertDiscovered(ctx context.Context, item Item) (UpsertOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID, existingVersion, existingState string
	err = tx.QueryRowContext(ctx,
		`SELECT id, version, state FROM items
		WHERE source_type = ? AND connection_id = ? AND external_key = ?`,
		item.SourceType, item.ConnectionID, item.ExternalKey,
	).Scan(&existingID, &existingVersion, &existingState)

	now := time.Now().UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO items (id, source_type, connection_id, external_key, external_url,
			version, state, title, correlation_id, discovered_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), item.SourceType, item.ConnectionID, item.ExternalKey,
			item.ExternalURL, item.Version, StateNew, item.Title,
			CorrelationID(item.SourceType, item.ConnectionID, item.ExternalKey),
			toMillis(now), toMillis(now), toMillis(now),
		)
		if err != nil {
			return UpsertUnchanged, fmt.Errorf("failed to insert discovered item: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return UpsertUnchanged, fmt.Errorf("failed to commit: %w", err)
		}
		return UpsertCreated, nil

	case err != nil:
		return UpsertUnchanged, fmt.Errorf("failed to look up existing item: %w", err)
	}

	if Unchanged(existingVersion, item.Version) {
		return UpsertUnchanged, nil
	}

	// An in-flight item keeps its lease; only settled states are reset so
	// a version bump cannot yank an item out from under a worker.
	if existingState == StateIndexing {
		return UpsertUnchanged, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE items
		SET version = ?, state = ?, external_url = ?, title = ?,
		    last_error = '', lease_expires_at = NULL,
		    discovered_at = ?, updated_at = ?
		WHERE id = ?`,
		item.Version, StateNew, item.ExternalURL, item.Title,
		toMillis(now), toMillis(now), existingID,
	)
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to reset changed item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to commit: %w", err)
	}
	return UpsertReset, nil
}

func (r *itemRepository) ListNew(ctx context.Context, sourceType string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		WHERE source_type = ? AND state = ?
		ORDER BY discovered_at ASC
		LIMIT ?`,
		sourceType, StateNew, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list new items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (r *itemRepository) MarkIndexing(ctx context.Context, itemID string, leaseFor time.Duration) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE items
		SET state = ?, lease_expires_at = ?, last_attempt_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateIndexing, toMillis(now.Add(leaseFor)), toMillis(now), toMillis(now),
		itemID, StateNew,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item indexing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyLeased
	}
	return nil
}

// MarkIndexed settles a leased item. The state guard keeps a worker that
// outlived its lease from clobbering an attempt the sweeper handed to
// someone else.
func (r *itemRepository) MarkIndexed(ctx context.Context, itemID string, title, content string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE items
		SET state = ?, title = ?, content = ?, last_error = '',
		    lease_expires_at = NULL, indexed_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateIndexed, title, content, toMillis(now), toMillis(now),
		itemID, StateIndexing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item indexed: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Warn("Item no longer leased, indexed result discarded", "item", itemID)
	}
	return nil
}

func (r *itemRepository) MarkFailed(ctx context.Context, itemID string, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE items
		SET state = ?, last_error = ?, retry_count = retry_count + 1,
		    lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateFailed, reason, toMillis(now), itemID, StateIndexing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Warn("Item no longer leased, failure discarded", "item", itemID)
	}
	return nil
}

func (r *itemRepository) ReleaseLease(ctx context.Context, itemID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE items
		SET state = ?, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateNew, toMillis(now), itemID, StateIndexing,
	)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (r *itemRepository) ResetExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE items
		SET state = ?, lease_expires_at = NULL,
		    retry_count = retry_count + 1, updated_at = ?
		WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		StateNew, toMillis(now), StateIndexing, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset expired leases: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

func (r *itemRepository) ResetForRetry(ctx context.Context, itemID string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE items
		SET state = ?, last_error = '', lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateNew, toMillis(now), itemID, StateFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to reset item for retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *itemRepository) GetItem(ctx context.Context, itemID string) (*Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) ListItems(ctx context.Context, sourceType, state string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any
	if sourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, sourceType)
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY discovered_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (r *itemRepository) CountByState(ctx context.Context, sourceType string) (map[string]int, error) {
	query := `SELECT state, COUNT(*) FROM items`
	var args []any
	if sourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, sourceType)
	}
	query += ` GROUP BY state`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var lastAttempt, leaseExpires, indexedAt sql.NullInt64
	var discoveredAt, createdAt, updatedAt int64

	err := row.Scan(
		&item.ID, &item.SourceType, &item.ConnectionID, &item.ExternalKey,
		&item.ExternalURL, &item.Version, &item.State, &item.Title,
		&item.Content, &item.LastError, &item.RetryCount,
		&lastAttempt, &leaseExpires, &item.CorrelationID,
		&discoveredAt, &indexedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.LastAttemptAt = fromNullMillis(lastAttempt)
	item.LeaseExpires = fromNullMillis(leaseExpires)
	item.IndexedAt = fromNullMillis(indexedAt)
	item.DiscoveredAt = fromMillis(discoveredAt)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}
