// Package snapshot keeps one compacted state per aggregate. Snapshots speed up
// rehydration; the event log stays the source of truth.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/metrics"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var now = time.Now

// Snapshot is a stored aggregate state.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int
	TypeName      string
	Data          json.RawMessage
	CreatedAt     time.Time
}

type Params struct {
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *metrics.EventStoreMetrics
}

// Store persists snapshots in the snapshots table.
type Store struct {
	db      *gorm.DB
	logg    *logger.Logger
	metrics *metrics.EventStoreMetrics
}

func New(params Params) (*Store, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{db: params.DB, logg: params.Logger, metrics: params.Metrics}, nil
}

// Save replaces the snapshot of aggregateID with state at version. The write
// is a single upsert; a snapshot older than the stored one is ignored.
func (s *Store) Save(ctx context.Context, aggregateID, aggregateType string, state any, version int) error {
	return s.SaveTx(ctx, s.db, aggregateID, aggregateType, state, version)
}

// SaveTx is Save on an existing connection or transaction.
func (s *Store) SaveTx(ctx context.Context, tx *gorm.DB, aggregateID, aggregateType string, state any, version int) error {
	if aggregateID == "" || aggregateType == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "aggregate id and type are required")
	}
	if version < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "snapshot version must be positive")
	}
	if state == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "snapshot state is required")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "marshal snapshot")
	}
	id, err := gonanoid.New()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate snapshot id")
	}

	rec := models.SnapshotRecord{
		ID:               id,
		AggregateID:      aggregateID,
		AggregateType:    aggregateType,
		Version:          version,
		Payload:          data,
		SnapshotTypeName: typeName(state),
		CreatedAt:        now().UTC().Truncate(time.Microsecond),
	}

	err = tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "aggregate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"aggregate_type", "version", "payload", "snapshot_type_name", "created_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "snapshots.version <= excluded.version"},
		}},
	}).Create(&rec).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "save snapshot")
	}

	s.metrics.IncSnapshot(aggregateType)
	return nil
}

// Get returns the stored snapshot of aggregateID; ok is false when none exists.
func (s *Store) Get(ctx context.Context, aggregateID string) (snap Snapshot, ok bool, err error) {
	var rec models.SnapshotRecord
	err = s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "load snapshot")
	}
	return Snapshot{
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Version:       rec.Version,
		TypeName:      rec.SnapshotTypeName,
		Data:          rec.Payload,
		CreatedAt:     rec.CreatedAt.UTC(),
	}, true, nil
}

// Load decodes the snapshot of aggregateID into T.
func Load[T any](ctx context.Context, s *Store, aggregateID string) (state T, version int, ok bool, err error) {
	snap, ok, err := s.Get(ctx, aggregateID)
	if err != nil || !ok {
		return state, 0, ok, err
	}
	if err := json.Unmarshal(snap.Data, &state); err != nil {
		return state, 0, false, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "decode snapshot")
	}
	return state, snap.Version, true, nil
}

// DeleteSnapshots removes every snapshot of aggregateID.
func (s *Store) DeleteSnapshots(ctx context.Context, aggregateID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Delete(&models.SnapshotRecord{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorage, res.Error, "delete snapshots")
	}
	return res.RowsAffected, nil
}

func typeName(state any) string {
	t := reflect.TypeOf(state)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
