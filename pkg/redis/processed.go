package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const processedScope = "processed"

// ProcessedTracker remembers which events a consumer (projection, subscriber)
// already handled, so replays resumed from a lagging checkpoint and
// redelivered messages are applied once. Marks expire after ttl; zero keeps
// them forever.
type ProcessedTracker struct {
	store IdempotencyStore
	ttl   time.Duration
}

// NewProcessedTracker builds a tracker over store, usually a *Client.
func NewProcessedTracker(store IdempotencyStore, ttl time.Duration) (*ProcessedTracker, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &ProcessedTracker{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed marks eventID for consumer and reports whether it was
// already marked.
func (t *ProcessedTracker) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := t.store.SetNX(ctx, key, "1", t.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Seen reports whether consumer handled eventID without marking it.
func (t *ProcessedTracker) Seen(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	if _, err := t.store.Get(ctx, key); err != nil {
		if errors.Is(err, Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete drops the mark so a failed handler is retried on the next delivery.
func (t *ProcessedTracker) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return err
	}
	return t.store.Del(ctx, key)
}

func (t *ProcessedTracker) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return t.store.IdempotencyKey(processedScope+":"+consumer, eventID.String()), nil
}
