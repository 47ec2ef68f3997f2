package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventRecord is one row of the append-only event log.
type EventRecord struct {
	SequenceNumber int64             `gorm:"column:sequence_number;primaryKey;autoIncrement"`
	EventID        uuid.UUID         `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_event_log_event_id"`
	AggregateID    string            `gorm:"column:aggregate_id;not null;uniqueIndex:ux_event_log_stream,priority:1"`
	AggregateType  string            `gorm:"column:aggregate_type;not null"`
	EventType      string            `gorm:"column:event_type;not null;index:ix_event_log_event_type"`
	StreamVersion  int               `gorm:"column:stream_version;not null;uniqueIndex:ux_event_log_stream,priority:2"`
	SchemaVersion  int               `gorm:"column:schema_version;not null"`
	Payload        json.RawMessage   `gorm:"column:payload;type:jsonb;serializer:json;not null"`
	Metadata       map[string]string `gorm:"column:metadata;type:jsonb;serializer:json"`
	OccurredAt     time.Time         `gorm:"column:occurred_at;not null;index:ix_event_log_occurred_at"`
	PersistedAt    time.Time         `gorm:"column:persisted_at;not null"`
	UserID         *string           `gorm:"column:user_id"`
	CorrelationID  *string           `gorm:"column:correlation_id;index:ix_event_log_correlation_id"`
	CausationID    *string           `gorm:"column:causation_id"`
}

func (EventRecord) TableName() string { return "event_log" }
