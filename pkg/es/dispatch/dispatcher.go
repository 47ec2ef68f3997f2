// Package dispatch delivers committed events to in-process subscribers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/eventcore/pkg/es"
	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"go.uber.org/multierr"
)

// SubscriberError is one handler failing on one event.
type SubscriberError struct {
	Subscriber string
	EventID    string
	EventType  string
	Err        error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %s failed on %s (%s): %v", e.Subscriber, e.EventType, e.EventID, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

type subscription struct {
	name      string
	eventType string
	handler   es.Handler
}

// Dispatcher fans events out to subscribers synchronously, in the order the
// events were raised and, per event, in the order subscribers registered.
type Dispatcher struct {
	mu   sync.RWMutex
	subs []subscription
	logg *logger.Logger
}

func NewDispatcher(logg *logger.Logger) *Dispatcher {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{logg: logg}
}

// Subscribe registers handler for events named eventType.
func (d *Dispatcher) Subscribe(eventType, name string, handler es.Handler) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	return d.add(subscription{name: name, eventType: eventType, handler: handler})
}

// SubscribeAll registers handler for every event.
func (d *Dispatcher) SubscribeAll(name string, handler es.Handler) error {
	return d.add(subscription{name: name, handler: handler})
}

func (d *Dispatcher) add(sub subscription) error {
	if sub.name == "" {
		return errors.New("subscriber name is required")
	}
	if sub.handler == nil {
		return errors.New("handler is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, sub)
	return nil
}

// Dispatch hands each event to its subscribers. A failing subscriber does not
// stop the others; every failure is logged and returned combined as
// *SubscriberError values.
func (d *Dispatcher) Dispatch(ctx context.Context, events []es.Envelope) error {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	var errs error
	for _, env := range events {
		handlerCtx := es.WithEnvelope(ctx, env)
		for _, sub := range subs {
			if sub.eventType != "" && sub.eventType != env.EventType {
				continue
			}
			if err := d.call(handlerCtx, sub, env); err != nil {
				subErr := &SubscriberError{
					Subscriber: sub.name,
					EventID:    env.EventID.String(),
					EventType:  env.EventType,
					Err:        err,
				}
				logCtx := d.logg.WithEventID(ctx, subErr.EventID)
				logCtx = d.logg.WithFields(logCtx, map[string]any{
					"subscriber":   sub.name,
					"event_type":   env.EventType,
					"aggregate_id": env.AggregateID,
				})
				d.logg.Error(logCtx, "event subscriber failed", err)
				errs = multierr.Append(errs, subErr)
			}
		}
	}
	return errs
}

func (d *Dispatcher) call(ctx context.Context, sub subscription, env es.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.New(pkgerrors.CodeSubscriber, fmt.Sprintf("panic: %v", r))
		}
	}()
	return sub.handler(ctx, env)
}

// SubscriberErrors splits a Dispatch error into its per-handler failures.
func SubscriberErrors(err error) []*SubscriberError {
	var out []*SubscriberError
	for _, e := range multierr.Errors(err) {
		var subErr *SubscriberError
		if errors.As(e, &subErr) {
			out = append(out, subErr)
		}
	}
	return out
}
