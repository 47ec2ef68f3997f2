package replay

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/codec"
	"github.com/angelmondragon/eventcore/pkg/es/dispatch"
	"github.com/angelmondragon/eventcore/pkg/es/eventlog"
	"github.com/angelmondragon/eventcore/pkg/es/snapshot"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/metrics"
)

const DefaultBatchSize = 500

type Params struct {
	Events    *eventlog.Store
	Snapshots *snapshot.Store
	Logger    *logger.Logger
	Metrics   *metrics.EventStoreMetrics
	BatchSize int
	// Tracker, with Options.Consumer, skips events a consumer already
	// handled. A checkpoint saved per batch lags the handler by up to one
	// batch; the tracker covers that window.
	Tracker dispatch.ProcessedTracker
}

// Engine replays aggregates and the global log.
type Engine struct {
	src       Source
	logg      *logger.Logger
	metrics   *metrics.EventStoreMetrics
	tracker   dispatch.ProcessedTracker
	batchSize int
}

func New(params Params) (*Engine, error) {
	if params.Events == nil {
		return nil, errors.New("event log is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Engine{
		src:       Source{Events: params.Events, Snapshots: params.Snapshots, Logger: params.Logger},
		logg:      params.Logger,
		metrics:   params.Metrics,
		tracker:   params.Tracker,
		batchSize: batch,
	}, nil
}

// ReplayAggregate rebuilds id through the snapshot-aware path shared with the repository.
func ReplayAggregate[T es.Aggregate](ctx context.Context, e *Engine, factory Factory[T], id string) (T, bool, error) {
	return Rehydrate(ctx, e.src, factory, id)
}

// ReplayAggregateAsOf rebuilds id as it was at pointInTime.
func ReplayAggregateAsOf[T es.Aggregate](ctx context.Context, e *Engine, factory Factory[T], id string, pointInTime time.Time) (T, bool, error) {
	return RehydrateAsOf(ctx, e.src, factory, id, pointInTime)
}

// Options bound a global replay.
type Options struct {
	// From skips events that occurred before it.
	From time.Time
	// AfterSequence resumes after a previously checkpointed sequence number.
	AfterSequence int64
	// Checkpoint is called after each fully handled batch with its last
	// sequence number.
	Checkpoint func(ctx context.Context, lastSequence int64) error
	// Consumer names the projection being rebuilt for the engine's tracker.
	Consumer string
}

// Result describes how far a replay got. LastSequence is valid for resuming
// even when the replay returned an error.
type Result struct {
	Events       int
	Batches      int
	LastSequence int64
}

// ReplayAll hands every event to handler in global sequence order. Batches are
// read with keyset pagination; ctx is checked between batches only.
func (e *Engine) ReplayAll(ctx context.Context, handler es.Handler, opts Options) (Result, error) {
	return e.replay(ctx, "all", "", handler, opts)
}

// ReplayByType is ReplayAll restricted to events of type T.
func ReplayByType[T es.Event](ctx context.Context, e *Engine, handler func(ctx context.Context, event T, env es.Envelope) error, opts Options) (Result, error) {
	return e.replay(ctx, "type", codec.TypeName[T](), func(ctx context.Context, env es.Envelope) error {
		typed, ok := env.Event.(T)
		if !ok {
			return errors.New("replayed event does not match requested type " + env.EventType)
		}
		return handler(ctx, typed, env)
	}, opts)
}

func (e *Engine) replay(ctx context.Context, mode, eventType string, handler es.Handler, opts Options) (Result, error) {
	if handler == nil {
		return Result{}, errors.New("handler is required")
	}

	if e.tracker != nil && opts.Consumer != "" {
		handler = dispatch.Idempotent(e.tracker, opts.Consumer, handler)
	}

	res := Result{LastSequence: opts.AfterSequence}
	filter := eventlog.ReadFilter{EventType: eventType, From: opts.From}
	lctx := e.logg.WithFields(ctx, map[string]any{"mode": mode, "event_type": eventType, "consumer": opts.Consumer})

	for {
		if err := ctx.Err(); err != nil {
			e.logg.Warn(e.logg.WithField(lctx, "last_sequence", res.LastSequence), "replay cancelled")
			return res, err
		}

		batch, err := e.src.Events.ReadBatch(ctx, res.LastSequence, e.batchSize, filter)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		for _, env := range batch {
			if err := handler(ctx, env); err != nil {
				e.metrics.AddReplayed(mode, res.Events)
				return res, err
			}
			res.Events++
			res.LastSequence = env.SequenceNumber
		}
		res.Batches++

		if opts.Checkpoint != nil {
			if err := opts.Checkpoint(ctx, res.LastSequence); err != nil {
				e.metrics.AddReplayed(mode, res.Events)
				return res, err
			}
		}
		if len(batch) < e.batchSize {
			break
		}
	}

	e.metrics.AddReplayed(mode, res.Events)
	e.logg.Info(e.logg.WithFields(lctx, map[string]any{
		"events":        res.Events,
		"batches":       res.Batches,
		"last_sequence": res.LastSequence,
	}), "replay finished")
	return res, nil
}
