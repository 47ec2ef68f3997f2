package models

import (
	"encoding/json"
	"time"
)

// SnapshotRecord holds the latest compacted state of one aggregate.
type SnapshotRecord struct {
	ID               string          `gorm:"column:id;primaryKey"`
	AggregateID      string          `gorm:"column:aggregate_id;not null;uniqueIndex:ux_snapshots_aggregate_id"`
	AggregateType    string          `gorm:"column:aggregate_type;not null"`
	Version          int             `gorm:"column:version;not null"`
	Payload          json.RawMessage `gorm:"column:payload;type:jsonb;serializer:json;not null"`
	SnapshotTypeName string          `gorm:"column:snapshot_type_name;not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;not null"`
}

func (SnapshotRecord) TableName() string { return "snapshots" }
