package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/codec"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"gorm.io/gorm"
)

// Writer stages committed-to-be events in the outbox inside the append
// transaction.
type Writer struct {
	repo  *Repository
	codec *codec.Codec
	logg  *logger.Logger
}

func NewWriter(repo *Repository, c *codec.Codec, logg *logger.Logger) (*Writer, error) {
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if c == nil {
		return nil, errors.New("codec is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Writer{repo: repo, codec: c, logg: logg}, nil
}

// StageTx writes one outbox entry per event using tx.
func (w *Writer) StageTx(ctx context.Context, tx *gorm.DB, events []es.Envelope) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(events) == 0 {
		return nil
	}

	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	rows := make([]models.OutboxEntry, 0, len(events))
	for _, env := range events {
		_, _, data, err := w.codec.Marshal(env.Event)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(newPayloadEnvelope(env, data))
		if err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}
		row := models.OutboxEntry{
			EventID:       env.EventID,
			EventType:     env.EventType,
			AggregateID:   env.AggregateID,
			AggregateType: env.AggregateType,
			Payload:       payload,
			OccurredAt:    env.OccurredAt.UTC(),
			CreatedAt:     createdAt,
		}
		if env.CorrelationID != "" {
			correlationID := env.CorrelationID
			row.CorrelationID = &correlationID
		}
		rows = append(rows, row)
	}

	if err := w.repo.InsertTx(tx, rows); err != nil {
		return fmt.Errorf("stage outbox entries: %w", err)
	}

	logCtx := w.logg.WithFields(ctx, map[string]any{
		"aggregate_id":   events[0].AggregateID,
		"aggregate_type": events[0].AggregateType,
		"count":          len(rows),
	})
	w.logg.Debug(logCtx, "outbox entries staged")
	return nil
}
