package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/dispatch"
	"github.com/angelmondragon/eventcore/pkg/es/estest"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(e es.Event) es.Envelope {
	env := es.NewEnvelope(context.Background(), e)
	env.AggregateID = "A"
	env.AggregateType = estest.AccountType
	return env
}

func TestDispatchOrderAndFiltering(t *testing.T) {
	d := dispatch.NewDispatcher(logger.Nop())
	var calls []string
	record := func(name string) es.Handler {
		return func(_ context.Context, env es.Envelope) error {
			calls = append(calls, name+":"+env.EventType)
			return nil
		}
	}
	require.NoError(t, d.SubscribeAll("audit", record("audit")))
	require.NoError(t, d.Subscribe("account.renamed", "names", record("names")))

	err := d.Dispatch(context.Background(), []es.Envelope{
		envelope(estest.AccountCreated{Owner: "ada"}),
		envelope(estest.AccountRenamed{Name: "x"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"audit:account.created",
		"audit:account.renamed",
		"names:account.renamed",
	}, calls)
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	d := dispatch.NewDispatcher(logger.Nop())
	boom := errors.New("projection down")
	reached := 0
	require.NoError(t, d.SubscribeAll("broken", func(context.Context, es.Envelope) error { return boom }))
	require.NoError(t, d.SubscribeAll("panicky", func(context.Context, es.Envelope) error { panic("nil map") }))
	require.NoError(t, d.SubscribeAll("healthy", func(context.Context, es.Envelope) error {
		reached++
		return nil
	}))

	err := d.Dispatch(context.Background(), []es.Envelope{
		envelope(estest.AccountCreated{Owner: "ada"}),
		envelope(estest.FundsDeposited{Amount: 1}),
	})
	require.Error(t, err)
	assert.Equal(t, 2, reached)
	assert.ErrorIs(t, err, boom)

	failures := dispatch.SubscriberErrors(err)
	require.Len(t, failures, 4)
	assert.Equal(t, "broken", failures[0].Subscriber)
	assert.Equal(t, "panicky", failures[1].Subscriber)
	assert.Equal(t, "account.funds_deposited", failures[3].EventType)
}

func TestDispatchPropagatesCausation(t *testing.T) {
	d := dispatch.NewDispatcher(logger.Nop())
	env := envelope(estest.AccountCreated{Owner: "ada"})
	env.CorrelationID = "corr"

	var causation, correlation string
	require.NoError(t, d.SubscribeAll("ctx", func(ctx context.Context, _ es.Envelope) error {
		causation = es.CausationIDFromContext(ctx)
		correlation = es.CorrelationIDFromContext(ctx)
		return nil
	}))
	require.NoError(t, d.Dispatch(context.Background(), []es.Envelope{env}))
	assert.Equal(t, env.EventID.String(), causation)
	assert.Equal(t, "corr", correlation)
}

func TestSubscribeValidates(t *testing.T) {
	d := dispatch.NewDispatcher(nil)
	noop := func(context.Context, es.Envelope) error { return nil }
	assert.Error(t, d.Subscribe("", "x", noop))
	assert.Error(t, d.SubscribeAll("", noop))
	assert.Error(t, d.SubscribeAll("x", nil))
}

type memoryTracker struct {
	seen    map[string]bool
	deleted int
}

func (m *memoryTracker) CheckAndMarkProcessed(_ context.Context, consumer string, id uuid.UUID) (bool, error) {
	key := consumer + ":" + id.String()
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *memoryTracker) Delete(_ context.Context, consumer string, id uuid.UUID) error {
	delete(m.seen, consumer+":"+id.String())
	m.deleted++
	return nil
}

func TestIdempotentHandlesOnce(t *testing.T) {
	tracker := &memoryTracker{seen: map[string]bool{}}
	calls := 0
	fail := true
	handler := dispatch.Idempotent(tracker, "balance", func(context.Context, es.Envelope) error {
		calls++
		if fail {
			return errors.New("transient")
		}
		return nil
	})
	env := envelope(estest.FundsDeposited{Amount: 3})

	require.Error(t, handler(context.Background(), env))
	assert.Equal(t, 1, tracker.deleted, "a failure releases the mark")

	fail = false
	require.NoError(t, handler(context.Background(), env))
	require.NoError(t, handler(context.Background(), env))
	assert.Equal(t, 2, calls)
}

type mapStore struct {
	values map[string]string
}

func (s *mapStore) Get(_ context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *mapStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = "1"
	return true, nil
}

func (s *mapStore) IdempotencyKey(scope, id string) string {
	return "ec:idempotency:" + scope + ":" + id
}

func (s *mapStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func TestIdempotentWithRedisTracker(t *testing.T) {
	store := &mapStore{values: map[string]string{}}
	manager, err := redis.NewProcessedTracker(store, time.Hour)
	require.NoError(t, err)

	calls := 0
	handler := dispatch.Idempotent(manager, "projection", func(context.Context, es.Envelope) error {
		calls++
		return nil
	})
	env := envelope(estest.FundsDeposited{Amount: 5})

	require.NoError(t, handler(context.Background(), env))
	require.NoError(t, handler(context.Background(), env))
	assert.Equal(t, 1, calls)
	assert.Len(t, store.values, 1)
}
