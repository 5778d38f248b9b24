package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const connectionColumns = `id, source_type, name, base_url, status, last_error,
	last_polled_at, last_synced_at, created_at, updated_at`

type connectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) UpsertConnection(ctx context.Context, sourceType, name, baseURL string) (string, error) {
	existing, err := r.GetConnectionByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to check existing connection: %w", err)
	}

	now := toMillis(time.Now())

	if existing != nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE connections SET source_type = ?, base_url = ?, updated_at = ? WHERE id = ?`,
			sourceType, baseURL, now, existing.ID,
		)
		if err != nil {
			return "", fmt.Errorf("failed to update connection: %w", err)
		}
		return existing.ID, nil
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO connections (id, source_type, name, base_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sourceType, name, baseURL, ConnActive, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert connection: %w", err)
	}
	return id, nil
}

func (r *connectionRepository) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	return scanConnectionRow(row)
}

func (r *connectionRepository) GetConnectionByName(ctx context.Context, name string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE name = ?`, name)
	return scanConnectionRow(row)
}

func (r *connectionRepository) ListActive(ctx context.Context) ([]Connection, error) {
	// Never-polled connections sort first, then oldest last_polled_at.
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections
		WHERE status = ?
		ORDER BY last_polled_at IS NOT NULL, last_polled_at ASC, name ASC`,
		ConnActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

func (r *connectionRepository) ListAll(ctx context.Context) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

func (r *connectionRepository) TouchPolled(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_polled_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch polled timestamp: %w", err)
	}
	return nil
}

func (r *connectionRepository) AdvanceSynced(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_synced_at = ?, last_error = '', updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to advance sync timestamp: %w", err)
	}
	return nil
}

func (r *connectionRepository) RecordError(ctx context.Context, id string, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_error = ?, updated_at = ? WHERE id = ?`,
		message, toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record connection error: %w", err)
	}
	return nil
}

func (r *connectionRepository) MarkInvalid(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		ConnInvalid, reason, toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark connection invalid: %w", err)
	}
	return nil
}

func (r *connectionRepository) Activate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		ConnActive, toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to activate connection: %w", err)
	}
	return nil
}

func scanConnectionRow(row rowScanner) (*Connection, error) {
	var conn Connection
	var lastPolled, lastSynced sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&conn.ID, &conn.SourceType, &conn.Name, &conn.BaseURL,
		&conn.Status, &conn.LastError,
		&lastPolled, &lastSynced, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection row: %w", err)
	}

	conn.LastPolledAt = fromNullMillis(lastPolled)
	conn.LastSyncedAt = fromNullMillis(lastSynced)
	conn.CreatedAt = fromMillis(createdAt)
	conn.UpdatedAt = fromMillis(updatedAt)
	return &conn, nil
}

func scanConnections(rows *sql.Rows) ([]Connection, error) {
	var conns []Connection
	for rows.Next() {
		conn, err := scanConnectionRow(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection rows: %w", err)
	}
	return conns, nil
}
