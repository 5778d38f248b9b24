package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisd/jervis/app/database"
)

type fakeTaskRepo struct {
	database.TaskRepository
	created []database.PendingTask
	result  bool
	err     error
}

func (r *fakeTaskRepo) CreateTask(ctx context.Context, task database.PendingTask) (bool, error) {
	r.created = append(r.created, task)
	return r.result, r.err
}

func TestEmitter_CreateTask(t *testing.T) {
	repo := &fakeTaskRepo{result: true}
	emitter := NewEmitter(repo)

	item := &database.Item{
		ID:            "item-1",
		SourceType:    "jira",
		ConnectionID:  "conn-1",
		ExternalKey:   "ABC-42",
		CorrelationID: database.CorrelationID("jira", "conn-1", "ABC-42"),
	}
	payload := Payload{
		SourceType:   "jira",
		ConnectionID: "conn-1",
		ExternalKey:  "ABC-42",
		Title:        "Login broken",
		Text:         "Users cannot log in since the last deploy.",
	}

	created, err := emitter.CreateTask(context.Background(), "qualify_issue", item, payload)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, repo.created, 1)

	task := repo.created[0]
	assert.Equal(t, "qualify_issue", task.TaskType)
	assert.Equal(t, "jira:conn-1:ABC-42", task.CorrelationID)
	assert.Equal(t, "conn-1", task.Owner)

	var decoded Payload
	require.NoError(t, json.Unmarshal([]byte(task.Content), &decoded))
	assert.Equal(t, payload, decoded)
}

func TestEmitter_CreateTask_SkippedWhenPending(t *testing.T) {
	repo := &fakeTaskRepo{result: false}
	emitter := NewEmitter(repo)

	item := &database.Item{CorrelationID: "jira:conn-1:ABC-1", ConnectionID: "conn-1"}
	created, err := emitter.CreateTask(context.Background(), "qualify_issue", item, Payload{Text: "body"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEmitter_CreateTask_RepositoryError(t *testing.T) {
	repo := &fakeTaskRepo{err: errors.New("database is locked")}
	emitter := NewEmitter(repo)

	item := &database.Item{CorrelationID: "jira:conn-1:ABC-1"}
	_, err := emitter.CreateTask(context.Background(), "qualify_issue", item, Payload{Text: "body"})
	assert.Error(t, err)
}
