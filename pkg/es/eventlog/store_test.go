package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/estest"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := estest.OpenSQLite(t)
	store, err := New(Params{DB: client.DB(), Codec: estest.NewCodec(), Logger: logger.Nop()})
	require.NoError(t, err)
	return store
}

func envelopes(ctx context.Context, events ...es.Event) []es.Envelope {
	out := make([]es.Envelope, 0, len(events))
	for _, e := range events {
		out = append(out, es.NewEnvelope(ctx, e))
	}
	return out
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
	_, err = New(Params{DB: &gorm.DB{}})
	require.Error(t, err)
}

func TestAppendEndToEndExample(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	stored, err := store.Append(ctx, "A", estest.AccountType, envelopes(ctx,
		estest.AccountCreated{Owner: "ada"},
		estest.AccountRenamed{Name: "primary"},
	), 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].StreamVersion)
	assert.Equal(t, 2, stored[1].StreamVersion)
	assert.Less(t, stored[0].SequenceNumber, stored[1].SequenceNumber)

	_, err = store.Append(ctx, "A", estest.AccountType, envelopes(ctx, estest.AccountDeactivated{}), 1)
	require.Error(t, err)
	var conflict *es.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "A", conflict.AggregateID)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	events, err := store.Events(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, estest.AccountCreated{Owner: "ada"}, events[0].Event)
	assert.Equal(t, estest.AccountRenamed{Name: "primary"}, events[1].Event)

	version, err := store.AggregateVersion(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestAppendKeepsVersionsContiguous(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	expected := 0
	for i := 0; i < 5; i++ {
		stored, err := store.Append(ctx, "A", estest.AccountType, envelopes(ctx,
			estest.FundsDeposited{Amount: int64(i + 1)},
			estest.FundsDeposited{Amount: 10},
		), expected)
		require.NoError(t, err)
		expected = stored[len(stored)-1].StreamVersion
	}

	events, err := store.Events(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, env := range events {
		assert.Equal(t, i+1, env.StreamVersion)
		assert.Equal(t, 2, env.SchemaVersion)
	}
}

func TestAppendIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, "A", estest.AccountType, envelopes(ctx,
		estest.FundsDeposited{Amount: 5},
		estest.FundsDeposited{Amount: 0},
	), 0)
	require.Error(t, err)

	exists, err := store.AggregateExists(ctx, "A")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAppendNewStreamWithStaleExpectation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, "B", estest.AccountType, envelopes(ctx, estest.AccountCreated{Owner: "x"}), 3)
	conflict, ok := es.IsConcurrencyConflict(err)
	require.True(t, ok)
	assert.Equal(t, 3, conflict.Expected)
	assert.Equal(t, 0, conflict.Actual)
}

func TestAppendReportsUniqueViolationAsConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.beforeInsert = func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Create(&models.EventRecord{
			EventID:       uuid.New(),
			AggregateID:   "A",
			AggregateType: estest.AccountType,
			EventType:     "account.created",
			StreamVersion: 1,
			SchemaVersion: 1,
			Payload:       []byte(`{"owner":"racer"}`),
			OccurredAt:    now,
			PersistedAt:   now,
		}).Error
	}

	_, err := store.Append(ctx, "A", estest.AccountType, envelopes(ctx, estest.AccountCreated{Owner: "ada"}), 0)
	require.Error(t, err)
	conflict, ok := es.IsConcurrencyConflict(err)
	require.True(t, ok, "expected conflict, got %v", err)
	assert.Equal(t, 0, conflict.Expected)
	assert.Equal(t, 1, conflict.Actual)

	store.beforeInsert = nil
	exists, err := store.AggregateExists(ctx, "A")
	require.NoError(t, err)
	assert.False(t, exists, "the whole transaction must roll back")
}

func TestAppendTxRequiresTransaction(t *testing.T) {
	store := newTestStore(t)
	_, err := store.AppendTx(context.Background(), nil, "A", estest.AccountType, envelopes(context.Background(), estest.AccountCreated{Owner: "x"}), 0)
	require.Error(t, err)
}

func TestAppendPersistsTracingFields(t *testing.T) {
	ctx := es.WithCorrelationID(context.Background(), "corr-1")
	ctx = es.WithCausationID(ctx, "cmd-9")
	ctx = es.WithUserID(ctx, "user-1")
	ctx = es.WithMetadata(ctx, es.Metadata{"ip": "10.0.0.1"})
	store := newTestStore(t)

	_, err := store.Append(ctx, "A", estest.AccountType, envelopes(ctx, estest.AccountCreated{Owner: "ada"}), 0)
	require.NoError(t, err)
	_, err = store.Append(ctx, "B", estest.AccountType, envelopes(ctx, estest.AccountCreated{Owner: "bob"}), 0)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), "C", estest.AccountType, envelopes(context.Background(), estest.AccountCreated{Owner: "cy"}), 0)
	require.NoError(t, err)

	correlated, err := store.EventsByCorrelationID(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, correlated, 2)
	assert.Equal(t, "A", correlated[0].AggregateID)
	assert.Equal(t, "B", correlated[1].AggregateID)
	assert.Equal(t, "cmd-9", correlated[0].CausationID)
	assert.Equal(t, "user-1", correlated[0].UserID)
	assert.Equal(t, "10.0.0.1", correlated[0].Metadata["ip"])
	assert.False(t, correlated[0].PersistedAt.IsZero())
}

func TestEventsFromAndUpToVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Append(ctx, "A", estest.AccountType, envelopes(ctx,
		estest.AccountCreated{Owner: "ada"},
		estest.AccountRenamed{Name: "one"},
		estest.AccountRenamed{Name: "two"},
		estest.AccountDeactivated{},
	), 0)
	require.NoError(t, err)

	tail, err := store.Events(ctx, "A", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 3, tail[0].StreamVersion)

	head, err := store.EventsUpToVersion(ctx, "A", 2)
	require.NoError(t, err)
	require.Len(t, head, 2)
	assert.Equal(t, 2, head[1].StreamVersion)
}

func TestEventsByTypeAndTimeRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(e es.Event, at time.Time) es.Envelope {
		env := es.NewEnvelope(ctx, e)
		env.OccurredAt = at
		return env
	}

	_, err := store.Append(ctx, "A", estest.AccountType, []es.Envelope{
		mk(estest.AccountCreated{Owner: "ada"}, base),
		mk(estest.AccountRenamed{Name: "a1"}, base.Add(time.Hour)),
	}, 0)
	require.NoError(t, err)
	_, err = store.Append(ctx, "B", estest.AccountType, []es.Envelope{
		mk(estest.AccountCreated{Owner: "bob"}, base.Add(30*time.Minute)),
		mk(estest.AccountRenamed{Name: "b1"}, base.Add(3*time.Hour)),
	}, 0)
	require.NoError(t, err)

	renamed, err := EventsByType[estest.AccountRenamed](ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []estest.AccountRenamed{{Name: "a1"}, {Name: "b1"}}, renamed)

	window, err := store.EventsByTimeRange(ctx, base.Add(30*time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "A", window[0].AggregateID)
	assert.Equal(t, "B", window[1].AggregateID)
	assert.Less(t, window[0].SequenceNumber, window[1].SequenceNumber)

	_, err = store.EventsByTimeRange(ctx, base, base.Add(-time.Second))
	require.Error(t, err)
}

func TestReadBatchIsKeysetPaginated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, id := range []string{"A", "B", "C"} {
		_, err := store.Append(ctx, id, estest.AccountType, envelopes(ctx,
			estest.AccountCreated{Owner: id},
			estest.FundsDeposited{Amount: 1},
		), 0)
		require.NoError(t, err)
	}

	var seen []int64
	after := int64(0)
	for {
		batch, err := store.ReadBatch(ctx, after, 4, ReadFilter{})
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, env := range batch {
			seen = append(seen, env.SequenceNumber)
		}
		after = batch[len(batch)-1].SequenceNumber
	}
	require.Len(t, seen, 6)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}

	deposits, err := store.ReadBatch(ctx, 0, 10, ReadFilter{EventType: "account.funds_deposited"})
	require.NoError(t, err)
	assert.Len(t, deposits, 3)
}

func TestUnknownStoredTypeIsSurfaced(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.db.Create(&models.EventRecord{
		EventID:       uuid.New(),
		AggregateID:   "Z",
		AggregateType: "ghost",
		EventType:     "ghost.appeared",
		StreamVersion: 1,
		SchemaVersion: 1,
		Payload:       []byte(`{}`),
		OccurredAt:    now,
		PersistedAt:   now,
	}).Error)

	_, err := store.Events(ctx, "Z", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, es.ErrUnknownEventType))
}
