// Package es holds the event-sourcing contracts shared by the event log,
// snapshot store, repository, replay engine and dispatcher.
package es

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// Event is an immutable domain fact. Implement EventType on a value receiver
// and return a stable name; the name is what gets persisted.
type Event interface {
	EventType() string
}

// Versioned is implemented by events whose payload schema has evolved.
// Events without it are schema version 1.
type Versioned interface {
	SchemaVersion() int
}

// SchemaVersionOf returns the schema version carried by e.
func SchemaVersionOf(e Event) int {
	if v, ok := e.(Versioned); ok && v.SchemaVersion() > 0 {
		return v.SchemaVersion()
	}
	return 1
}

// Metadata is free-form key/value context stored next to an event.
type Metadata map[string]string

// Clone returns a copy that is safe to mutate.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Envelope is an Event together with its stream position and tracing data.
// StreamVersion is assigned when the event is raised; SequenceNumber and
// PersistedAt are only known once the event log has stored it.
type Envelope struct {
	EventID       uuid.UUID `validate:"required"`
	AggregateID   string    `validate:"required,max=255"`
	AggregateType string    `validate:"required,max=255"`
	EventType     string    `validate:"required,max=255"`
	SchemaVersion int       `validate:"min=1"`
	Event         Event     `validate:"required"`
	Metadata      Metadata
	OccurredAt    time.Time `validate:"required"`
	UserID        string
	CorrelationID string
	CausationID   string

	StreamVersion  int `validate:"min=1"`
	SequenceNumber int64
	PersistedAt    time.Time
}

// NewEnvelope wraps event with a fresh id, the current time and the tracing
// data carried by ctx. Stream fields are left for the caller.
func NewEnvelope(ctx context.Context, event Event) Envelope {
	return Envelope{
		EventID:       uuid.New(),
		EventType:     event.EventType(),
		SchemaVersion: SchemaVersionOf(event),
		Event:         event,
		Metadata:      MetadataFromContext(ctx).Clone(),
		OccurredAt:    now().UTC().Truncate(time.Microsecond),
		UserID:        UserIDFromContext(ctx),
		CorrelationID: CorrelationIDFromContext(ctx),
		CausationID:   CausationIDFromContext(ctx),
	}
}

// Handler receives one event envelope.
type Handler func(ctx context.Context, env Envelope) error
