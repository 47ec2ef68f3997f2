package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/eventcore/pkg/outbox"
	"google.golang.org/api/googleapi"
)

type rowInserter interface {
	InsertRows(ctx context.Context, rows []any) error
}

// EventRow is the archive row written per delivered event.
type EventRow struct {
	EventID       string    `bigquery:"event_id"`
	EventType     string    `bigquery:"event_type"`
	SchemaVersion int       `bigquery:"schema_version"`
	AggregateType string    `bigquery:"aggregate_type"`
	AggregateID   string    `bigquery:"aggregate_id"`
	StreamVersion int       `bigquery:"stream_version"`
	OccurredAt    time.Time `bigquery:"occurred_at"`
	CorrelationID string    `bigquery:"correlation_id"`
	CausationID   string    `bigquery:"causation_id"`
	UserID        string    `bigquery:"user_id"`
	Payload       string    `bigquery:"payload"`
	DeliveredAt   time.Time `bigquery:"delivered_at"`
}

// BigQuery streams events into an archive table. The event id is the insert
// id, which gives best-effort dedupe of redeliveries.
type BigQuery struct {
	inserter rowInserter
	now      func() time.Time
}

func NewBigQuery(inserter rowInserter) (*BigQuery, error) {
	if inserter == nil {
		return nil, errors.New("bigquery inserter is required")
	}
	return &BigQuery{inserter: inserter, now: time.Now}, nil
}

func (s *BigQuery) Name() string { return "bigquery" }

func (s *BigQuery) Deliver(ctx context.Context, msg outbox.Message) error {
	row := newEventRow(msg, s.now().UTC())
	saver := &bigquery.StructSaver{Struct: row, InsertID: row.EventID}
	if err := s.inserter.InsertRows(ctx, []any{saver}); err != nil {
		if badRequest(err) {
			return outbox.NewNonRetryableError(fmt.Errorf("bigquery insert: %w", err))
		}
		return fmt.Errorf("bigquery insert: %w", err)
	}
	return nil
}

func newEventRow(msg outbox.Message, deliveredAt time.Time) EventRow {
	env := msg.Envelope
	row := EventRow{
		EventID:       env.EventID,
		EventType:     env.EventType,
		SchemaVersion: env.SchemaVersion,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		StreamVersion: env.StreamVersion,
		OccurredAt:    env.OccurredAt.UTC(),
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		Payload:       string(env.Data),
		DeliveredAt:   deliveredAt,
	}
	if env.Actor != nil {
		row.UserID = env.Actor.UserID
	}
	return row
}

func badRequest(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusBadRequest
	}
	return false
}
