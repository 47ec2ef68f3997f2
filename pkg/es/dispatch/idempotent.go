package dispatch

import (
	"context"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ProcessedTracker remembers which events a consumer already handled.
type ProcessedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Idempotent wraps handler so an event id is handled at most once per
// consumer. A failed handler releases the mark so a later delivery retries.
func Idempotent(tracker ProcessedTracker, consumer string, handler es.Handler) es.Handler {
	return func(ctx context.Context, env es.Envelope) error {
		seen, err := tracker.CheckAndMarkProcessed(ctx, consumer, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		if err := handler(ctx, env); err != nil {
			return multierr.Append(err, tracker.Delete(ctx, consumer, env.EventID))
		}
		return nil
	}
}
