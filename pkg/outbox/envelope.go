package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/eventcore/pkg/es"
)

// PayloadVersion is the version of the PayloadEnvelope layout.
const PayloadVersion = 1

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID string `json:"userId"`
}

// PayloadEnvelope is the self-describing payload stored in outbox_entries and
// shipped to external sinks unchanged.
type PayloadEnvelope struct {
	Version        int               `json:"version"`
	EventID        string            `json:"eventId"`
	EventType      string            `json:"eventType"`
	SchemaVersion  int               `json:"schemaVersion"`
	AggregateID    string            `json:"aggregateId"`
	AggregateType  string            `json:"aggregateType"`
	StreamVersion  int               `json:"streamVersion"`
	SequenceNumber int64             `json:"sequenceNumber,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Actor          *ActorRef         `json:"actor,omitempty"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	CausationID    string            `json:"causationId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Data           json.RawMessage   `json:"data"`
}

func newPayloadEnvelope(env es.Envelope, data json.RawMessage) PayloadEnvelope {
	payload := PayloadEnvelope{
		Version:        PayloadVersion,
		EventID:        env.EventID.String(),
		EventType:      env.EventType,
		SchemaVersion:  env.SchemaVersion,
		AggregateID:    env.AggregateID,
		AggregateType:  env.AggregateType,
		StreamVersion:  env.StreamVersion,
		SequenceNumber: env.SequenceNumber,
		OccurredAt:     env.OccurredAt.UTC(),
		CorrelationID:  env.CorrelationID,
		CausationID:    env.CausationID,
		Metadata:       env.Metadata.Clone(),
		Data:           data,
	}
	if env.UserID != "" {
		payload.Actor = &ActorRef{UserID: env.UserID}
	}
	return payload
}

// DecodePayload parses a stored payload. Malformed payloads can never be
// delivered and are reported as non-retryable.
func DecodePayload(raw []byte) (PayloadEnvelope, error) {
	var payload PayloadEnvelope
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PayloadEnvelope{}, NewNonRetryableError(fmt.Errorf("decode outbox payload: %w", err))
	}
	if payload.EventType == "" || payload.EventID == "" {
		return PayloadEnvelope{}, NewNonRetryableError(fmt.Errorf("outbox payload missing event id or type"))
	}
	return payload, nil
}
