package outbox

import (
	"context"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
)

// Message is one outbox entry ready for an external sink.
type Message struct {
	OutboxID   int64
	Envelope   PayloadEnvelope
	Payload    []byte
	Attributes map[string]string
}

// Sink delivers messages to an external system. Deliver must be safe to call
// again for the same message; consumers deduplicate on the event id.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// NewMessage builds the sink message for entry.
func NewMessage(entry models.OutboxEntry, envelope PayloadEnvelope) Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     entry.EventType,
		"aggregate_type": entry.AggregateType,
		"aggregate_id":   entry.AggregateID,
		"occurred_at":    entry.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.CorrelationID != "" {
		attrs["correlation_id"] = envelope.CorrelationID
	}
	return Message{
		OutboxID:   entry.ID,
		Envelope:   envelope,
		Payload:    entry.Payload,
		Attributes: attrs,
	}
}
