// Package tasks creates the downstream work items consumed by the LLM
// qualifier. Creation is idempotent per correlation id so rediscovering an
// item never duplicates in-flight work.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jervisd/jervis/app/database"
)

// Payload is the denormalized task content. It carries everything the
// qualifier needs; the consumer never re-fetches the original source.
type Payload struct {
	SourceType   string `json:"source_type"`
	ConnectionID string `json:"connection_id"`
	ExternalKey  string `json:"external_key"`
	ExternalURL  string `json:"external_url,omitempty"`
	Title        string `json:"title,omitempty"`
	Text         string `json:"text"`
}

type Emitter struct {
	repo database.TaskRepository
}

func NewEmitter(repo database.TaskRepository) *Emitter {
	return &Emitter{repo: repo}
}

// CreateTask records a pending task for an indexed item. A task whose
// correlation id is already pending is left alone; a terminal one is
// refreshed. Returns whether the call created (or refreshed) a task.
func (e *Emitter) CreateTask(ctx context.Context, taskType string, item *database.Item, payload Payload) (bool, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	created, err := e.repo.CreateTask(ctx, database.PendingTask{
		TaskType:      taskType,
		CorrelationID: item.CorrelationID,
		Owner:         item.ConnectionID,
		Content:       string(content),
	})
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}

	if created {
		slog.Debug("Task created", "type", taskType, "correlation_id", item.CorrelationID)
	} else {
		slog.Debug("Task already pending, skipped", "type", taskType, "correlation_id", item.CorrelationID)
	}
	return created, nil
}
