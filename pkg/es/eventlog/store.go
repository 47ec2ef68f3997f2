// Package eventlog is the append-only, per-aggregate versioned event store on
// top of a relational database.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db"
	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/codec"
	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	streamConstraint = "ux_event_log_stream"
	appendSavepoint  = "eventlog_append"
)

var streamColumns = []string{"event_log.aggregate_id", "event_log.stream_version"}

var now = time.Now

// Params wires the event log.
type Params struct {
	DB      *gorm.DB
	Codec   *codec.Codec
	Logger  *logger.Logger
	Metrics *metrics.EventStoreMetrics
}

// Store reads and appends event streams.
type Store struct {
	db      *gorm.DB
	codec   *codec.Codec
	logg    *logger.Logger
	metrics *metrics.EventStoreMetrics
	tracer  trace.Tracer

	// beforeInsert runs between the version check and the insert; tests use it
	// to simulate a writer that commits in that window.
	beforeInsert func(tx *gorm.DB) error
}

func New(params Params) (*Store, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Codec == nil {
		return nil, errors.New("codec is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{
		db:      params.DB,
		codec:   params.Codec,
		logg:    params.Logger,
		metrics: params.Metrics,
		tracer:  otel.Tracer("github.com/angelmondragon/eventcore/pkg/es/eventlog"),
	}, nil
}

// Codec returns the codec used to encode and decode payloads.
func (s *Store) Codec() *codec.Codec {
	return s.codec
}

// Append writes events to the stream in a transaction of its own.
// See AppendTx for the semantics.
func (s *Store) Append(ctx context.Context, aggregateID, aggregateType string, events []es.Envelope, expectedVersion int) ([]es.Envelope, error) {
	var stored []es.Envelope
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, err = s.AppendTx(ctx, tx, aggregateID, aggregateType, events, expectedVersion)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// AppendTx appends events inside tx. expectedVersion must equal the current
// stream version (0 for a new stream), otherwise nothing is written and a
// *es.ConcurrencyConflictError is returned. Events get stream versions
// expectedVersion+1.. in order; the returned envelopes carry the assigned
// sequence numbers.
func (s *Store) AppendTx(ctx context.Context, tx *gorm.DB, aggregateID, aggregateType string, events []es.Envelope, expectedVersion int) (stored []es.Envelope, err error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if len(events) == 0 {
		return nil, nil
	}
	if aggregateID == "" || aggregateType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "aggregate id and type are required")
	}
	if expectedVersion < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expected version must not be negative")
	}

	ctx, span := s.tracer.Start(ctx, "EventLog.Append",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("es.aggregate_id", aggregateID),
			attribute.String("es.aggregate_type", aggregateType),
			attribute.Int("es.expected_version", expectedVersion),
			attribute.Int("es.event_count", len(events)),
		),
	)
	defer func() { endSpan(span, err) }()

	started := now()
	tx = tx.WithContext(ctx)

	actual, err := s.streamVersion(tx, aggregateID)
	if err != nil {
		return nil, err
	}
	if actual != expectedVersion {
		return nil, s.conflict(ctx, aggregateID, aggregateType, expectedVersion, actual)
	}

	records := make([]models.EventRecord, 0, len(events))
	stored = make([]es.Envelope, 0, len(events))
	persistedAt := now().UTC().Truncate(time.Microsecond)
	for i, env := range events {
		env = normalize(env, aggregateID, aggregateType, expectedVersion+i+1)
		if err := es.ValidateEnvelope(env); err != nil {
			return nil, err
		}
		rec, err := s.toRecord(env, persistedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		stored = append(stored, env)
	}

	if s.beforeInsert != nil {
		if err := s.beforeInsert(tx); err != nil {
			return nil, err
		}
	}

	if err := tx.SavePoint(appendSavepoint).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "create append savepoint")
	}
	if err := tx.Create(&records).Error; err != nil {
		if rbErr := tx.RollbackTo(appendSavepoint).Error; rbErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, errors.Join(err, rbErr), "rollback append savepoint")
		}
		if db.IsUniqueViolation(err, streamConstraint, streamColumns...) {
			// a concurrent writer committed between the version read and the insert;
			// under snapshot isolation the re-read can still miss it
			actual, readErr := s.streamVersion(tx, aggregateID)
			if readErr != nil {
				return nil, readErr
			}
			if actual == expectedVersion {
				actual = expectedVersion + 1
			}
			return nil, s.conflict(ctx, aggregateID, aggregateType, expectedVersion, actual)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "insert events")
	}

	for i := range stored {
		stored[i].SequenceNumber = records[i].SequenceNumber
		stored[i].PersistedAt = records[i].PersistedAt
	}

	s.metrics.ObserveAppend(aggregateType, len(stored), now().Sub(started))
	span.SetAttributes(attribute.Int64("es.last_sequence", stored[len(stored)-1].SequenceNumber))
	return stored, nil
}

func (s *Store) conflict(ctx context.Context, aggregateID, aggregateType string, expected, actual int) error {
	s.metrics.IncConflict(aggregateType)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"aggregate_id":     aggregateID,
		"aggregate_type":   aggregateType,
		"expected_version": expected,
		"actual_version":   actual,
	})
	s.logg.Warn(ctx, "event append rejected by version check")
	return &es.ConcurrencyConflictError{AggregateID: aggregateID, Expected: expected, Actual: actual}
}

func (s *Store) streamVersion(tx *gorm.DB, aggregateID string) (int, error) {
	var version int
	err := tx.Model(&models.EventRecord{}).
		Select("COALESCE(MAX(stream_version), 0)").
		Where("aggregate_id = ?", aggregateID).
		Scan(&version).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "read stream version")
	}
	return version, nil
}

func normalize(env es.Envelope, aggregateID, aggregateType string, streamVersion int) es.Envelope {
	env.AggregateID = aggregateID
	env.AggregateType = aggregateType
	env.StreamVersion = streamVersion
	if env.Event != nil {
		if env.EventType == "" {
			env.EventType = env.Event.EventType()
		}
		if env.SchemaVersion == 0 {
			env.SchemaVersion = es.SchemaVersionOf(env.Event)
		}
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now()
	}
	env.OccurredAt = env.OccurredAt.UTC().Truncate(time.Microsecond)
	return env
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
