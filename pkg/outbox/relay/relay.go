// Package relay ships staged outbox entries to an external sink with
// at-least-once semantics.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/angelmondragon/eventcore/pkg/config"
	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/enums"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/metrics"
	"github.com/angelmondragon/eventcore/pkg/outbox"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultBatchSize       = 100
	defaultPollInterval    = 5 * time.Second
	defaultMaxRetries      = 5
	defaultDeliveryTimeout = 15 * time.Second
	maxErrorBackoff        = time.Minute
	jitterWindow           = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchPendingTx(tx *gorm.DB, limit, maxRetries int, now time.Time) ([]models.OutboxEntry, error)
	MarkProcessedTx(tx *gorm.DB, ids []int64, at time.Time) error
	MarkFailedTx(tx *gorm.DB, entry models.OutboxEntry, cause error, at time.Time) error
	MarkTerminalTx(tx *gorm.DB, entry models.OutboxEntry, cause error, maxRetries int) error
	CountExhausted(ctx context.Context, maxRetries int) (int64, error)
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

// eventDecoder resolves stored type names; *codec.Codec satisfies it. A relay
// built without one ships payloads without resolving their type, which is how
// the standalone binary runs since it links no domain events.
type eventDecoder interface {
	Unmarshal(typeName string, data json.RawMessage) (es.Event, error)
}

// DeliveryTracker remembers event ids a sink already accepted. An entry
// whose status write was lost after a successful publish is then marked
// processed without being published again. *redis.ProcessedTracker
// satisfies it.
type DeliveryTracker interface {
	Seen(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
}

// Lock is an optional leader lease. Only the holder runs batches.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Params struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	Repository outboxRepository
	DLQ        dlqRepository
	Sink       outbox.Sink
	Decoder    eventDecoder
	Lock       Lock
	Tracker    DeliveryTracker
	Metrics    *metrics.OutboxMetrics
	Now        func() time.Time
}

// BatchResult summarizes one ProcessBatch cycle.
type BatchResult struct {
	Fetched      int
	Delivered    int
	Failed       int
	DeadLettered int
	Skipped      bool
}

// Relay polls the outbox and delivers due entries.
type Relay struct {
	logg            *logger.Logger
	db              dbClient
	repo            outboxRepository
	dlq             dlqRepository
	sink            outbox.Sink
	decoder         eventDecoder
	lock            Lock
	tracker         DeliveryTracker
	metrics         *metrics.OutboxMetrics
	now             func() time.Time
	batchSize       int
	maxRetries      int
	pollInterval    time.Duration
	deliveryTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(params Params) (*Relay, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Sink == nil {
		return nil, errors.New("sink is required")
	}

	cfg := params.Config
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Relay{
		logg:            params.Logger,
		db:              params.DB,
		repo:            params.Repository,
		dlq:             params.DLQ,
		sink:            params.Sink,
		decoder:         params.Decoder,
		lock:            params.Lock,
		tracker:         params.Tracker,
		metrics:         params.Metrics,
		now:             now,
		batchSize:       batch,
		maxRetries:      maxRetries,
		pollInterval:    poll,
		deliveryTimeout: timeout,
	}, nil
}

// ProcessBatch runs exactly one relay cycle. Every status update of the cycle
// is written in one transaction.
func (r *Relay) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	started := r.now()

	if r.lock != nil {
		held, err := r.lock.Acquire(ctx)
		if err != nil {
			return res, fmt.Errorf("acquire relay lock: %w", err)
		}
		if !held {
			res.Skipped = true
			return res, nil
		}
	}

	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		res = BatchResult{}
		at := r.now().UTC()
		entries, err := r.repo.FetchPendingTx(tx, r.batchSize, r.maxRetries, at)
		if err != nil {
			return fmt.Errorf("fetch pending: %w", err)
		}
		res.Fetched = len(entries)

		var delivered []int64
		for _, entry := range entries {
			outcome, err := r.handleIsolated(ctx, tx, entry, at)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeDelivered:
				delivered = append(delivered, entry.ID)
				res.Delivered++
			case outcomeFailed:
				res.Failed++
			case outcomeDeadLettered:
				res.DeadLettered++
			}
		}
		if err := r.repo.MarkProcessedTx(tx, delivered, r.now().UTC()); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	r.metrics.ObserveCycle(r.now().Sub(started))
	r.reportExhausted(ctx)
	return res, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeDeadLettered
)

// handleIsolated runs handle behind a savepoint. A status write that fails
// is rolled back for this entry only; it stays pending and the rest of the
// batch still commits.
func (r *Relay) handleIsolated(ctx context.Context, tx *gorm.DB, entry models.OutboxEntry, at time.Time) (outcome, error) {
	savepoint := fmt.Sprintf("outbox_entry_%d", entry.ID)
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return outcomeFailed, fmt.Errorf("savepoint %d: %w", entry.ID, err)
	}
	result, err := r.handle(ctx, tx, entry, at)
	if err == nil {
		return result, nil
	}
	if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
		return outcomeFailed, multierr.Append(err, rbErr)
	}
	r.logg.Error(r.logg.WithFields(ctx, entryFields(entry)), "outbox status write failed, entry left pending", err)
	return outcomeFailed, nil
}

func (r *Relay) handle(ctx context.Context, tx *gorm.DB, entry models.OutboxEntry, at time.Time) (outcome, error) {
	fields := entryFields(entry)
	payload, err := outbox.DecodePayload(entry.Payload)
	if err != nil {
		return outcomeDeadLettered, r.terminal(ctx, tx, entry, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	if r.decoder != nil {
		if _, err := r.decoder.Unmarshal(payload.EventType, payload.Data); err != nil {
			reason := enums.OutboxDLQReasonNonRetryable
			if errors.Is(err, es.ErrUnknownEventType) {
				reason = enums.OutboxDLQReasonUnknownType
			}
			return outcomeDeadLettered, r.terminal(ctx, tx, entry, reason, err, fields)
		}
	}

	if r.alreadyDelivered(ctx, entry) {
		r.logg.Info(r.logg.WithFields(ctx, fields), "outbox entry already published, marking processed")
		return outcomeDelivered, nil
	}

	if err := r.deliver(ctx, outbox.NewMessage(entry, payload)); err != nil {
		r.metrics.IncFailed(entry.EventType)
		if outbox.IsNonRetryable(err) {
			return outcomeDeadLettered, r.terminal(ctx, tx, entry, enums.OutboxDLQReasonNonRetryable, err, fields)
		}

		attempts := entry.ProcessingAttempts + 1
		fields["attempt_count"] = attempts
		logCtx := r.logg.WithFields(ctx, fields)
		logCtx = r.logg.WithField(logCtx, "error", err.Error())

		if markErr := r.repo.MarkFailedTx(tx, entry, err, at); markErr != nil {
			return outcomeFailed, fmt.Errorf("mark failure %d: %w", entry.ID, markErr)
		}
		if attempts >= r.maxRetries {
			r.logg.Warn(logCtx, "outbox entry exhausted its retries")
			if dlqErr := r.insertDLQ(tx, entry, enums.OutboxDLQReasonMaxAttempts, err, attempts); dlqErr != nil {
				return outcomeFailed, dlqErr
			}
			return outcomeDeadLettered, nil
		}
		r.logg.Warn(logCtx, "outbox delivery failed")
		return outcomeFailed, nil
	}

	r.rememberDelivered(ctx, entry)
	r.metrics.IncDelivered(entry.EventType)
	r.logg.Debug(r.logg.WithFields(ctx, fields), "outbox entry delivered")
	return outcomeDelivered, nil
}

func (r *Relay) trackerConsumer() string {
	return "relay:" + r.sink.Name()
}

// alreadyDelivered treats tracker errors as not delivered; the sink sees a
// duplicate rather than losing the event.
func (r *Relay) alreadyDelivered(ctx context.Context, entry models.OutboxEntry) bool {
	if r.tracker == nil {
		return false
	}
	seen, err := r.tracker.Seen(ctx, r.trackerConsumer(), entry.EventID)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "delivery tracker lookup failed")
		return false
	}
	return seen
}

func (r *Relay) rememberDelivered(ctx context.Context, entry models.OutboxEntry) {
	if r.tracker == nil {
		return
	}
	if _, err := r.tracker.CheckAndMarkProcessed(ctx, r.trackerConsumer(), entry.EventID); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "delivery tracker mark failed")
	}
}

func (r *Relay) deliver(ctx context.Context, msg outbox.Message) (err error) {
	deliverCtx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink %s panicked: %v", r.sink.Name(), rec)
		}
	}()
	return r.sink.Deliver(deliverCtx, msg)
}

func (r *Relay) terminal(ctx context.Context, tx *gorm.DB, entry models.OutboxEntry, reason enums.OutboxDLQErrorReason, err error, fields map[string]any) error {
	fields["error_reason"] = reason
	logCtx := r.logg.WithFields(ctx, fields)
	logCtx = r.logg.WithField(logCtx, "error", err.Error())
	r.logg.Warn(logCtx, "outbox entry will not be retried")

	if markErr := r.repo.MarkTerminalTx(tx, entry, err, r.maxRetries); markErr != nil {
		return fmt.Errorf("mark terminal %d: %w", entry.ID, markErr)
	}
	attempts := entry.ProcessingAttempts + 1
	if attempts < r.maxRetries {
		attempts = r.maxRetries
	}
	return r.insertDLQ(tx, entry, reason, err, attempts)
}

func (r *Relay) insertDLQ(tx *gorm.DB, entry models.OutboxEntry, reason enums.OutboxDLQErrorReason, cause error, attempts int) error {
	failedAt := r.now().UTC()
	msg := cause.Error()
	dlqEntry := models.OutboxDLQ{
		OutboxEntryID: entry.ID,
		EventID:       entry.EventID,
		EventType:     entry.EventType,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		Payload:       entry.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  attempts,
		FailedAt:      failedAt,
		CreatedAt:     failedAt,
	}
	if err := r.dlq.InsertTx(tx, dlqEntry); err != nil {
		return fmt.Errorf("insert dlq %d: %w", entry.ID, err)
	}
	r.metrics.IncDeadLettered(string(reason))
	return nil
}

func (r *Relay) reportExhausted(ctx context.Context) {
	count, err := r.repo.CountExhausted(ctx, r.maxRetries)
	if err != nil {
		r.logg.Error(ctx, "count exhausted outbox entries", err)
		return
	}
	r.metrics.SetExhausted(count)
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; otherwise the relay sleeps for the poll interval.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		r.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	defer r.releaseLock()

	backoff := r.pollInterval
	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "outbox relay context canceled")
			return ctx.Err()
		default:
		}

		res, err := r.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logg.Error(ctx, "outbox relay batch error", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxErrorBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = r.pollInterval

		if res.Fetched >= r.batchSize {
			continue
		}
		if err := sleep(ctx, withJitter(r.pollInterval)); err != nil {
			return err
		}
	}
}

// Start runs the relay in the background until Stop or ctx cancellation.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("relay already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logg.Error(runCtx, "outbox relay stopped unexpectedly", err)
		}
	}()
	return nil
}

// Stop cancels a started relay and waits for the cycle in flight to finish
// or for ctx to expire.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) releaseLock() {
	if r.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lock.Release(ctx); err != nil {
		r.logg.Error(ctx, "failed to release relay lock", err)
	}
}

func entryFields(entry models.OutboxEntry) map[string]any {
	fields := map[string]any{
		"outbox_id":      entry.ID,
		"event_id":       entry.EventID.String(),
		"event_type":     entry.EventType,
		"aggregate_type": entry.AggregateType,
		"aggregate_id":   entry.AggregateID,
		"attempt_count":  entry.ProcessingAttempts,
	}
	if entry.LastError != nil {
		fields["last_error"] = *entry.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
