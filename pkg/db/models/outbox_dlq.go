package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventcore/pkg/enums"
)

// OutboxDLQ captures terminal outbox failures for auditing and remediation.
// The source outbox row is kept; this table is the operator-facing copy.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	OutboxEntryID int64                      `gorm:"column:outbox_entry_id;not null;uniqueIndex:ux_outbox_dlq_entry"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	EventType     string                     `gorm:"column:event_type;not null"`
	AggregateType string                     `gorm:"column:aggregate_type;not null"`
	AggregateID   string                     `gorm:"column:aggregate_id;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;serializer:json;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null"`
	FailedAt      time.Time                  `gorm:"column:failed_at;not null"`
	CreatedAt     time.Time                  `gorm:"column:created_at;not null"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
