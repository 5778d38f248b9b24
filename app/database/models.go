package database

import (
	"time"
)

// Item states. Transitions are monotonic new -> indexing -> indexed|failed,
// except failed -> new (operator retry) and indexing -> new (released lease
// or stale-lease sweep).
const (
	StateNew      = "new"
	StateIndexing = "indexing"
	StateIndexed  = "indexed"
	StateFailed   = "failed"
)

// Connection states.
const (
	ConnActive  = "active"
	ConnInvalid = "invalid"
)

// Pending task states.
const (
	TaskPending = "pending"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Item is one discovered external unit of content (commit, issue, page,
// email message, feed entry) tracked through the indexing state machine.
type Item struct {
	ID            string
	SourceType    string
	ConnectionID  string
	ExternalKey   string
	ExternalURL   string
	Version       string // opaque change token: page version, updated timestamp, content hash
	State         string
	Title         string
	Content       string // extracted plain text, set when indexed
	LastError     string
	RetryCount    int
	LastAttemptAt *time.Time
	LeaseExpires  *time.Time // set while state = indexing
	CorrelationID string
	DiscoveredAt  time.Time
	IndexedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Connection is a registered external account (one YAML connection file).
type Connection struct {
	ID           string
	SourceType   string
	Name         string
	BaseURL      string
	Status       string
	LastError    string
	LastPolledAt *time.Time
	LastSyncedAt *time.Time // advanced only on a fully successful poll
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PendingTask is a downstream work item created after successful indexing.
// Content is denormalized so the consumer never re-fetches the source.
type PendingTask struct {
	ID            string
	TaskType      string
	CorrelationID string
	Owner         string
	Content       string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
