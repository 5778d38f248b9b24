// Package notify broadcasts indexing progress to an optional external sink.
// Publishing is fire-and-forget: an unreachable sink never blocks or fails
// the pipeline.
package notify

import (
	"time"
)

// Event is one status broadcast.
type Event struct {
	Kind         string    `json:"kind"` // item_indexed, item_failed, poll_completed
	SourceType   string    `json:"source_type,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	ItemID       string    `json:"item_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

type Sink interface {
	Publish(event Event)
}

// NopSink is the default when no notify URL is configured.
type NopSink struct{}

func (NopSink) Publish(Event) {}
