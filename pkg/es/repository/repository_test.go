package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/estest"
	"github.com/angelmondragon/eventcore/pkg/es/eventlog"
	"github.com/angelmondragon/eventcore/pkg/es/repository"
	"github.com/angelmondragon/eventcore/pkg/es/snapshot"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	snapshots *snapshot.Store
	repo      *repository.Repository[*estest.Account]
}

func newFixture(t *testing.T, interval int) fixture {
	t.Helper()
	client := estest.OpenSQLite(t)
	c := estest.NewCodec()
	logg := logger.Nop()

	events, err := eventlog.New(eventlog.Params{DB: client.DB(), Codec: c, Logger: logg})
	require.NoError(t, err)
	snapshots, err := snapshot.New(snapshot.Params{DB: client.DB(), Logger: logg})
	require.NoError(t, err)
	writer, err := outbox.NewWriter(outbox.NewRepository(client.DB()), c, logg)
	require.NoError(t, err)

	repo, err := repository.New(repository.Params[*estest.Account]{
		DB:        client.DB(),
		Events:    events,
		Snapshots: snapshots,
		Policy:    snapshot.NewPolicy(interval),
		Outbox:    writer,
		Factory:   estest.NewAccount,
		Logger:    logg,
	})
	require.NoError(t, err)
	return fixture{db: client.DB(), snapshots: snapshots, repo: repo}
}

func TestGetByIDNotFound(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, es.ErrAggregateNotFound))

	exists, err := f.repo.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveAndReload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	acc := estest.NewAccount("A")
	require.NoError(t, acc.Open(ctx, "ada"))
	require.NoError(t, acc.Rename(ctx, "primary"))
	stored, err := f.repo.Save(ctx, acc)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Empty(t, acc.Uncommitted())
	assert.Equal(t, 2, acc.Version())

	loaded, err := f.repo.GetByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "ada", loaded.Owner)
	assert.Equal(t, "primary", loaded.Name)
	assert.Equal(t, 2, loaded.Version())

	version, err := f.repo.GetVersion(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	var entries []models.OutboxEntry
	require.NoError(t, f.db.Order("id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "account.created", entries[0].EventType)
	assert.Equal(t, stored[0].EventID, entries[0].EventID)
	assert.False(t, entries[0].IsProcessed)

	payload, err := outbox.DecodePayload(entries[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, "account.renamed", payload.EventType)
	assert.Equal(t, 2, payload.StreamVersion)
	assert.JSONEq(t, `{"name":"primary"}`, string(payload.Data))
}

func TestSaveWithoutChangesIsNoop(t *testing.T) {
	f := newFixture(t, 0)
	stored, err := f.repo.Save(context.Background(), estest.NewAccount("A"))
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestConcurrentSavesExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	acc := estest.NewAccount("A")
	require.NoError(t, acc.Open(ctx, "ada"))
	_, err := f.repo.Save(ctx, acc)
	require.NoError(t, err)

	first, err := f.repo.GetByID(ctx, "A")
	require.NoError(t, err)
	second, err := f.repo.GetByID(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, first.Deposit(ctx, 10))
	require.NoError(t, first.Deposit(ctx, 20))
	require.NoError(t, second.Rename(ctx, "late"))

	_, err = f.repo.Save(ctx, first)
	require.NoError(t, err)

	_, err = f.repo.Save(ctx, second)
	conflict, ok := es.IsConcurrencyConflict(err)
	require.True(t, ok, "expected a conflict, got %v", err)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 3, conflict.Actual)
	assert.Len(t, second.Uncommitted(), 1, "the loser keeps its pending events")

	var outboxCount int64
	require.NoError(t, f.db.Model(&models.OutboxEntry{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(3), outboxCount, "the rejected save staged nothing")

	reloaded, err := f.repo.GetByID(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, reloaded.Rename(ctx, "late"))
	_, err = f.repo.Save(ctx, reloaded)
	require.NoError(t, err)
}

func TestSnapshotTakenAtInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	acc := estest.NewAccount("A")
	require.NoError(t, acc.Open(ctx, "ada"))
	require.NoError(t, acc.Deposit(ctx, 1))
	_, err := f.repo.Save(ctx, acc)
	require.NoError(t, err)
	_, ok, err := f.snapshots.Get(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok, "two events are below the interval")

	require.NoError(t, acc.Deposit(ctx, 2))
	_, err = f.repo.Save(ctx, acc)
	require.NoError(t, err)
	snap, ok, err := f.snapshots.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, 3, acc.SnapshotVersion())

	require.NoError(t, acc.Deposit(ctx, 4))
	_, err = f.repo.Save(ctx, acc)
	require.NoError(t, err)

	loaded, err := f.repo.GetByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.SnapshotVersion())
	assert.Equal(t, 4, loaded.Version())
	assert.Equal(t, int64(7), loaded.Balance)
}

func TestSaveFailureKeepsUncommitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	acc := estest.NewAccount("A")
	require.NoError(t, es.Raise(ctx, acc, estest.AccountCreated{}))
	_, err := f.repo.Save(ctx, acc)
	require.Error(t, err, "owner is required by the event's validation tags")
	assert.Len(t, acc.Uncommitted(), 1)

	exists, err := f.repo.Exists(ctx, "A")
	require.NoError(t, err)
	assert.False(t, exists)
}
