// Package repository loads and saves event-sourced aggregates.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/eventlog"
	"github.com/angelmondragon/eventcore/pkg/es/replay"
	"github.com/angelmondragon/eventcore/pkg/es/snapshot"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"gorm.io/gorm"
)

// OutboxStager writes outbox entries for events inside the append transaction.
type OutboxStager interface {
	StageTx(ctx context.Context, tx *gorm.DB, events []es.Envelope) error
}

// Unit is the transactional scope of a unit of work.
type Unit interface {
	Tx() *gorm.DB
	Record(events ...es.Envelope)
	OnCommit(fn func(ctx context.Context))
}

type Params[T es.Aggregate] struct {
	DB        *gorm.DB
	Events    *eventlog.Store
	Snapshots *snapshot.Store
	Policy    snapshot.Policy
	Outbox    OutboxStager
	Factory   replay.Factory[T]
	Logger    *logger.Logger
}

// Repository persists aggregates of type T. There is no per-aggregate lock:
// the event log's version check is the only concurrency control, and a
// conflict is returned to the caller untouched.
type Repository[T es.Aggregate] struct {
	db        *gorm.DB
	events    *eventlog.Store
	snapshots *snapshot.Store
	policy    snapshot.Policy
	outbox    OutboxStager
	factory   replay.Factory[T]
	logg      *logger.Logger
}

func New[T es.Aggregate](params Params[T]) (*Repository[T], error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Events == nil {
		return nil, errors.New("event log is required")
	}
	if params.Factory == nil {
		return nil, errors.New("aggregate factory is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	policy := params.Policy
	if policy.Interval <= 0 {
		policy = snapshot.NewPolicy(0)
	}
	return &Repository[T]{
		db:        params.DB,
		events:    params.Events,
		snapshots: params.Snapshots,
		policy:    policy,
		outbox:    params.Outbox,
		factory:   params.Factory,
		logg:      params.Logger,
	}, nil
}

// GetByID rehydrates aggregate id. es.ErrAggregateNotFound is returned when
// it has neither a snapshot nor events.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (T, error) {
	agg, ok, err := replay.Rehydrate(ctx, r.source(), r.factory, id)
	if err != nil {
		return agg, err
	}
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", es.ErrAggregateNotFound, id)
	}
	return agg, nil
}

// Save appends the uncommitted events of agg in a transaction of its own.
// Uncommitted events are cleared only after the commit; on any error agg is
// left as it was so the caller can inspect it or reload.
func (r *Repository[T]) Save(ctx context.Context, agg T) ([]es.Envelope, error) {
	if len(agg.Uncommitted()) == 0 {
		return nil, nil
	}
	var stored []es.Envelope
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, err = r.StageTx(ctx, tx, agg)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.AfterCommit(ctx, agg)
	return stored, nil
}

// SaveIn stages agg in u and clears it once u commits.
func (r *Repository[T]) SaveIn(ctx context.Context, u Unit, agg T) error {
	stored, err := r.StageTx(ctx, u.Tx(), agg)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}
	u.Record(stored...)
	u.OnCommit(func(ctx context.Context) { r.AfterCommit(ctx, agg) })
	return nil
}

// StageTx appends the uncommitted events of agg and their outbox entries
// inside tx. agg is not modified; call AfterCommit once tx commits.
func (r *Repository[T]) StageTx(ctx context.Context, tx *gorm.DB, agg T) ([]es.Envelope, error) {
	pending := agg.Uncommitted()
	if len(pending) == 0 {
		return nil, nil
	}
	stored, err := r.events.AppendTx(ctx, tx, agg.AggregateID(), agg.AggregateType(), pending, es.ExpectedVersion(agg))
	if err != nil {
		return nil, err
	}
	if r.outbox != nil {
		if err := r.outbox.StageTx(ctx, tx, stored); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// AfterCommit clears the uncommitted events of agg and takes a snapshot when
// the policy asks for one. Snapshot failures are logged: the events are
// already durable.
func (r *Repository[T]) AfterCommit(ctx context.Context, agg T) {
	agg.ClearUncommitted()
	if r.snapshots == nil {
		return
	}
	snap, ok := any(agg).(es.Snapshotter)
	if !ok {
		return
	}
	version := agg.Version()
	if !r.policy.ShouldTakeSnapshot(version, es.SnapshotVersionOf(agg)) {
		return
	}
	if err := r.snapshots.Save(ctx, agg.AggregateID(), agg.AggregateType(), snap.SnapshotState(), version); err != nil {
		logCtx := r.logg.WithAggregateID(ctx, agg.AggregateID())
		logCtx = r.logg.WithField(logCtx, "version", version)
		r.logg.Error(logCtx, "snapshot save failed", err)
		return
	}
	es.MarkSnapshotted(agg, version)
}

// Exists reports whether aggregate id has any events.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	return r.events.AggregateExists(ctx, id)
}

// GetVersion returns the latest stream version of id, 0 when absent.
func (r *Repository[T]) GetVersion(ctx context.Context, id string) (int, error) {
	return r.events.AggregateVersion(ctx, id)
}

func (r *Repository[T]) source() replay.Source {
	return replay.Source{Events: r.events, Snapshots: r.snapshots, Logger: r.logg}
}
