package snapshot_test

import (
	"context"
	"testing"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es/estest"
	"github.com/angelmondragon/eventcore/pkg/es/snapshot"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func newStore(t *testing.T) (*snapshot.Store, func() int64) {
	t.Helper()
	client := estest.OpenSQLite(t)
	store, err := snapshot.New(snapshot.Params{DB: client.DB(), Logger: logger.Nop()})
	require.NoError(t, err)
	count := func() int64 {
		var n int64
		require.NoError(t, client.DB().Model(&models.SnapshotRecord{}).Count(&n).Error)
		return n
	}
	return store, count
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	store, count := newStore(t)

	require.NoError(t, store.Save(ctx, "A", estest.AccountType, state{Owner: "ada", Balance: 1}, 50))
	require.NoError(t, store.Save(ctx, "A", estest.AccountType, state{Owner: "ada", Balance: 9}, 100))
	assert.Equal(t, int64(1), count())

	got, version, ok, err := snapshot.Load[state](ctx, store, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100, version)
	assert.Equal(t, state{Owner: "ada", Balance: 9}, got)

	raw, ok, err := store.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "snapshot_test.state", raw.TypeName)
	assert.Equal(t, estest.AccountType, raw.AggregateType)
}

func TestSaveIgnoresOlderVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Save(ctx, "A", estest.AccountType, state{Balance: 100}, 100))
	require.NoError(t, store.Save(ctx, "A", estest.AccountType, state{Balance: 50}, 50))

	got, version, ok, err := snapshot.Load[state](ctx, store, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100, version)
	assert.Equal(t, int64(100), got.Balance)
}

func TestGetAbsent(t *testing.T) {
	store, _ := newStore(t)
	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, version, ok, err := snapshot.Load[state](context.Background(), store, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, version)
}

func TestDeleteSnapshots(t *testing.T) {
	ctx := context.Background()
	store, count := newStore(t)
	require.NoError(t, store.Save(ctx, "A", estest.AccountType, state{Owner: "a"}, 10))
	require.NoError(t, store.Save(ctx, "B", estest.AccountType, state{Owner: "b"}, 10))

	deleted, err := store.DeleteSnapshots(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(1), count())
}

func TestSaveValidatesInput(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	assert.Error(t, store.Save(ctx, "", estest.AccountType, state{}, 1))
	assert.Error(t, store.Save(ctx, "A", estest.AccountType, state{}, 0))
	assert.Error(t, store.Save(ctx, "A", estest.AccountType, nil, 1))
}

func TestPolicy(t *testing.T) {
	cases := []struct {
		name     string
		interval int
		current  int
		last     int
		want     bool
	}{
		{name: "below interval", interval: 50, current: 49, last: 0, want: false},
		{name: "at interval", interval: 50, current: 50, last: 0, want: true},
		{name: "since last snapshot", interval: 50, current: 120, last: 100, want: false},
		{name: "default interval", interval: 0, current: 50, last: 0, want: true},
		{name: "custom interval", interval: 5, current: 12, last: 7, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, snapshot.NewPolicy(tc.interval).ShouldTakeSnapshot(tc.current, tc.last))
		})
	}
}
