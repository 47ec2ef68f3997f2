package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEntry stages a committed event for at-least-once external delivery.
type OutboxEntry struct {
	ID                 int64           `gorm:"column:id;primaryKey;autoIncrement"`
	EventID            uuid.UUID       `gorm:"column:event_id;type:uuid;not null;index:ix_outbox_entries_event_id"`
	EventType          string          `gorm:"column:event_type;not null"`
	AggregateID        string          `gorm:"column:aggregate_id;not null"`
	AggregateType      string          `gorm:"column:aggregate_type;not null"`
	Payload            json.RawMessage `gorm:"column:payload;type:jsonb;serializer:json;not null"`
	OccurredAt         time.Time       `gorm:"column:occurred_at;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;not null;index:ix_outbox_entries_pending,priority:2"`
	ProcessedAt        *time.Time      `gorm:"column:processed_at"`
	IsProcessed        bool            `gorm:"column:is_processed;not null;index:ix_outbox_entries_pending,priority:1"`
	ProcessingAttempts int             `gorm:"column:processing_attempts;not null"`
	LastError          *string         `gorm:"column:last_error"`
	NextRetryAt        *time.Time      `gorm:"column:next_retry_at"`
	CorrelationID      *string         `gorm:"column:correlation_id"`
}

func (OutboxEntry) TableName() string { return "outbox_entries" }
