package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const taskColumns = `id, task_type, correlation_id, owner, content, status, created_at, updated_at`

type taskRepository struct {
	db *DB
}

func NewTaskRepository(db *DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) CreateTask(ctx context.Context, task PendingTask) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	now := toMillis(time.Now())

	// A pending task with the same correlation id wins: the conflict
	// update only fires when the existing task is terminal, refreshing it
	// for the rediscovered item.
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_tasks (id, task_type, correlation_id, owner, content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (correlation_id) DO UPDATE SET
			task_type = excluded.task_type,
			owner = excluded.owner,
			content = excluded.content,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE pending_tasks.status != ?`,
		task.ID, task.TaskType, task.CorrelationID, task.Owner, task.Content,
		task.Status, now, now, TaskPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *taskRepository) GetTaskByCorrelationID(ctx context.Context, correlationID string) (*PendingTask, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM pending_tasks WHERE correlation_id = ?`, correlationID)
	return scanTaskRow(row)
}

func (r *taskRepository) ListPending(ctx context.Context, limit int) ([]PendingTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM pending_tasks
		WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		TaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []PendingTask
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

func (r *taskRepository) MarkTaskDone(ctx context.Context, id string) error {
	return r.setTaskStatus(ctx, id, TaskDone)
}

func (r *taskRepository) MarkTaskFailed(ctx context.Context, id string) error {
	return r.setTaskStatus(ctx, id, TaskFailed)
}

func (r *taskRepository) setTaskStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return nil
}

func (r *taskRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pending_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanTaskRow(row rowScanner) (*PendingTask, error) {
	var task PendingTask
	var createdAt, updatedAt int64

	err := row.Scan(
		&task.ID, &task.TaskType, &task.CorrelationID, &task.Owner,
		&task.Content, &task.Status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task row: %w", err)
	}

	task.CreatedAt = fromMillis(createdAt)
	task.UpdatedAt = fromMillis(updatedAt)
	return &task, nil
}
