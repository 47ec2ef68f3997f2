package eventlog

import (
	"context"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/codec"
	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Events returns the stream of aggregateID from fromVersion on, ascending by
// stream version. fromVersion <= 1 reads the whole stream.
func (s *Store) Events(ctx context.Context, aggregateID string, fromVersion int) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.Events", attribute.String("es.aggregate_id", aggregateID), attribute.Int("es.from_version", fromVersion))
	defer func() { endSpan(span, err) }()

	return s.find(ctx, "read stream", func(q *gorm.DB) *gorm.DB {
		return q.Where("aggregate_id = ? AND stream_version >= ?", aggregateID, fromVersion).
			Order("stream_version ASC")
	})
}

// EventsUpToVersion returns events 1..toVersion of the stream.
func (s *Store) EventsUpToVersion(ctx context.Context, aggregateID string, toVersion int) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.EventsUpToVersion", attribute.String("es.aggregate_id", aggregateID), attribute.Int("es.to_version", toVersion))
	defer func() { endSpan(span, err) }()

	return s.find(ctx, "read stream up to version", func(q *gorm.DB) *gorm.DB {
		return q.Where("aggregate_id = ? AND stream_version <= ?", aggregateID, toVersion).
			Order("stream_version ASC")
	})
}

// EventsAsOf returns the events of the stream that occurred at or before
// pointInTime, ascending by stream version.
func (s *Store) EventsAsOf(ctx context.Context, aggregateID string, pointInTime time.Time) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.EventsAsOf", attribute.String("es.aggregate_id", aggregateID))
	defer func() { endSpan(span, err) }()

	return s.find(ctx, "read stream as of", func(q *gorm.DB) *gorm.DB {
		return q.Where("aggregate_id = ? AND occurred_at <= ?", aggregateID, pointInTime.UTC()).
			Order("stream_version ASC")
	})
}

// EventsByTimeRange returns every event with start <= occurredAt <= end in
// global sequence order.
func (s *Store) EventsByTimeRange(ctx context.Context, start, end time.Time) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.EventsByTimeRange")
	defer func() { endSpan(span, err) }()

	if end.Before(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "time range end is before start")
	}
	return s.find(ctx, "read time range", func(q *gorm.DB) *gorm.DB {
		return q.Where("occurred_at >= ? AND occurred_at <= ?", start.UTC(), end.UTC()).
			Order("sequence_number ASC")
	})
}

// EventsByCorrelationID returns every event of one logical operation, across
// aggregates, in global sequence order.
func (s *Store) EventsByCorrelationID(ctx context.Context, correlationID string) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.EventsByCorrelationID", attribute.String("es.correlation_id", correlationID))
	defer func() { endSpan(span, err) }()

	return s.find(ctx, "read correlation", func(q *gorm.DB) *gorm.DB {
		return q.Where("correlation_id = ?", correlationID).Order("sequence_number ASC")
	})
}

// EventsOfType returns events named typeName in global sequence order.
func (s *Store) EventsOfType(ctx context.Context, typeName string) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.EventsOfType", attribute.String("es.event_type", typeName))
	defer func() { endSpan(span, err) }()

	return s.find(ctx, "read by type", func(q *gorm.DB) *gorm.DB {
		return q.Where("event_type = ?", typeName).Order("sequence_number ASC")
	})
}

// EventsByType returns the decoded events of type T in global sequence order.
func EventsByType[T es.Event](ctx context.Context, s *Store) ([]T, error) {
	envs, err := s.EventsOfType(ctx, codec.TypeName[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(envs))
	for _, env := range envs {
		typed, ok := env.Event.(T)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeSerialization, "stored event does not decode to the requested type")
		}
		out = append(out, typed)
	}
	return out, nil
}

// ReadFilter narrows a ReadBatch.
type ReadFilter struct {
	EventType string
	From      time.Time
}

// ReadBatch returns at most limit events with sequence number greater than
// afterSequence, ascending. It is keyset-paginated: pass the last sequence
// number of a batch to fetch the next one.
func (s *Store) ReadBatch(ctx context.Context, afterSequence int64, limit int, filter ReadFilter) (out []es.Envelope, err error) {
	ctx, span := s.startRead(ctx, "EventLog.ReadBatch", attribute.Int64("es.after_sequence", afterSequence), attribute.Int("es.limit", limit))
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch limit must be positive")
	}
	return s.find(ctx, "read batch", func(q *gorm.DB) *gorm.DB {
		q = q.Where("sequence_number > ?", afterSequence)
		if filter.EventType != "" {
			q = q.Where("event_type = ?", filter.EventType)
		}
		if !filter.From.IsZero() {
			q = q.Where("occurred_at >= ?", filter.From.UTC())
		}
		return q.Order("sequence_number ASC").Limit(limit)
	})
}

// AggregateVersion returns the latest stream version, 0 for an absent stream.
func (s *Store) AggregateVersion(ctx context.Context, aggregateID string) (int, error) {
	return s.streamVersion(s.db.WithContext(ctx), aggregateID)
}

// AggregateExists reports whether the stream has at least one event.
func (s *Store) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("aggregate_id = ?", aggregateID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "check stream exists")
	}
	return count > 0, nil
}

func (s *Store) find(ctx context.Context, op string, scope func(q *gorm.DB) *gorm.DB) ([]es.Envelope, error) {
	var records []models.EventRecord
	if err := scope(s.db.WithContext(ctx).Model(&models.EventRecord{})).Find(&records).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, op)
	}
	return s.decodeAll(records)
}

func (s *Store) startRead(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}
