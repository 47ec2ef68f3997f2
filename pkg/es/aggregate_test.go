package es_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/estest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseAssignsContiguousVersionsAndContext(t *testing.T) {
	ctx := es.WithCorrelationID(context.Background(), "corr-1")
	ctx = es.WithCausationID(ctx, "cmd-1")
	ctx = es.WithUserID(ctx, "user-7")
	ctx = es.WithMetadata(ctx, es.Metadata{"source": "test"})

	acct := estest.NewAccount("A")
	require.NoError(t, acct.Open(ctx, "ada"))
	require.NoError(t, acct.Rename(ctx, "primary"))

	assert.Equal(t, 2, acct.Version())
	pending := acct.Uncommitted()
	require.Len(t, pending, 2)
	for i, env := range pending {
		assert.Equal(t, i+1, env.StreamVersion)
		assert.Equal(t, "A", env.AggregateID)
		assert.Equal(t, estest.AccountType, env.AggregateType)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.Equal(t, "cmd-1", env.CausationID)
		assert.Equal(t, "user-7", env.UserID)
		assert.Equal(t, "test", env.Metadata["source"])
		assert.NotEqual(t, env.EventID.String(), "00000000-0000-0000-0000-000000000000")
	}
	assert.Equal(t, "account.created", pending[0].EventType)
	assert.Equal(t, "account.renamed", pending[1].EventType)
	assert.Equal(t, 0, es.ExpectedVersion(acct))
}

func TestRaiseKeepsStateWhenApplyFails(t *testing.T) {
	acct := estest.NewAccount("A")
	err := es.Raise(context.Background(), acct, unknownEvent{})
	require.Error(t, err)
	assert.Equal(t, 0, acct.Version())
	assert.Empty(t, acct.Uncommitted())
}

func TestSchemaVersionOf(t *testing.T) {
	assert.Equal(t, 1, es.SchemaVersionOf(estest.AccountCreated{}))
	assert.Equal(t, 2, es.SchemaVersionOf(estest.FundsDeposited{}))
}

func TestLoadFromHistoryRejectsGaps(t *testing.T) {
	acct := estest.NewAccount("A")
	history := []es.Envelope{
		{StreamVersion: 1, EventType: "account.created", Event: estest.AccountCreated{Owner: "ada"}},
		{StreamVersion: 3, EventType: "account.renamed", Event: estest.AccountRenamed{Name: "x"}},
	}
	err := es.LoadFromHistory(acct, history)
	require.Error(t, err)
	assert.True(t, errors.Is(err, es.ErrVersionGap))
	assert.Equal(t, 1, acct.Version())
	assert.Empty(t, acct.Uncommitted())
}

func TestLoadSparseHistoryAllowsSkippedVersions(t *testing.T) {
	acct := estest.NewAccount("A")
	require.NoError(t, es.LoadSparseHistory(acct, []es.Envelope{
		{StreamVersion: 1, EventType: "account.created", Event: estest.AccountCreated{Owner: "ada"}},
		{StreamVersion: 3, EventType: "account.renamed", Event: estest.AccountRenamed{Name: "x"}},
	}))
	assert.Equal(t, 3, acct.Version())
	assert.Equal(t, "x", acct.Name)

	err := es.LoadSparseHistory(acct, []es.Envelope{
		{StreamVersion: 2, EventType: "account.renamed", Event: estest.AccountRenamed{Name: "y"}},
	})
	assert.True(t, errors.Is(err, es.ErrVersionGap))
	assert.Equal(t, "x", acct.Name)
}

func TestRestoreFromSnapshotPositionsAggregate(t *testing.T) {
	src := estest.NewAccount("A")
	require.NoError(t, src.Open(context.Background(), "ada"))
	require.NoError(t, src.Deposit(context.Background(), 40))

	data, err := json.Marshal(src.SnapshotState())
	require.NoError(t, err)

	dst := estest.NewAccount("A")
	require.NoError(t, es.RestoreFromSnapshot(dst, data, 2))
	assert.Equal(t, 2, dst.Version())
	assert.Equal(t, 2, dst.SnapshotVersion())
	assert.Equal(t, int64(40), dst.Balance)
	assert.True(t, dst.Active)

	require.NoError(t, es.LoadFromHistory(dst, []es.Envelope{
		{StreamVersion: 3, EventType: "account.renamed", Event: estest.AccountRenamed{Name: "after"}},
	}))
	assert.Equal(t, 3, dst.Version())
	assert.Equal(t, "after", dst.Name)
}

func TestUncommittedReturnsCopy(t *testing.T) {
	acct := estest.NewAccount("A")
	require.NoError(t, acct.Open(context.Background(), "ada"))
	pending := acct.Uncommitted()
	pending[0].EventType = "mutated"
	assert.Equal(t, "account.created", acct.Uncommitted()[0].EventType)

	acct.ClearUncommitted()
	assert.Empty(t, acct.Uncommitted())
	assert.Equal(t, 1, acct.Version())
}

type unknownEvent struct{}

func (unknownEvent) EventType() string { return "unknown" }
