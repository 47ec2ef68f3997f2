package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/eventcore/pkg/db"
	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"gorm.io/gorm"
)

// ErrDispatch matches a *DispatchError: the write committed but at least one
// subscriber failed.
var ErrDispatch = errors.New("event dispatch failed after commit")

// DispatchError reports delayed notification. The events it carries are
// durable; only in-process subscribers missed them.
type DispatchError struct {
	Events []es.Envelope
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%d committed events, dispatch failed: %v", len(e.Events), e.Err)
}

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

func (e *DispatchError) Unwrap() error { return e.Err }

// Work is the transactional scope handed to a unit of work function.
type Work struct {
	tx       *gorm.DB
	events   []es.Envelope
	onCommit []func(ctx context.Context)
}

// Tx is the transaction every write in the unit must use.
func (w *Work) Tx() *gorm.DB { return w.tx }

// Record adds events that become visible to subscribers once the unit commits.
func (w *Work) Record(events ...es.Envelope) {
	w.events = append(w.events, events...)
}

// OnCommit registers fn to run once the committed events were dispatched,
// whether or not every subscriber succeeded.
func (w *Work) OnCommit(fn func(ctx context.Context)) {
	if fn != nil {
		w.onCommit = append(w.onCommit, fn)
	}
}

// UnitOfWork runs a transaction, then dispatches the events it recorded.
type UnitOfWork struct {
	db         db.Transactor
	dispatcher *Dispatcher
	logg       *logger.Logger
}

func NewUnitOfWork(tx db.Transactor, dispatcher *Dispatcher, logg *logger.Logger) (*UnitOfWork, error) {
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &UnitOfWork{db: tx, dispatcher: dispatcher, logg: logg}, nil
}

// Execute runs fn in one transaction. When the transaction fails nothing was
// written and that error is returned as is. After a commit the recorded
// events are returned; a subscriber failure then comes back as *DispatchError.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, w *Work) error) ([]es.Envelope, error) {
	var work *Work
	err := u.db.WithTx(ctx, func(tx *gorm.DB) error {
		work = &Work{tx: tx}
		return fn(ctx, work)
	})
	if err != nil {
		return nil, err
	}

	var dispatchErr error
	if len(work.events) > 0 {
		dispatchErr = u.dispatcher.Dispatch(ctx, work.events)
	}
	for _, hook := range work.onCommit {
		hook(ctx)
	}
	if len(work.events) == 0 {
		return nil, nil
	}

	if dispatchErr != nil {
		logCtx := u.logg.WithField(ctx, "events", len(work.events))
		u.logg.Warn(logCtx, "events committed but not every subscriber was notified")
		return work.events, &DispatchError{Events: work.events, Err: dispatchErr}
	}
	return work.events, nil
}
