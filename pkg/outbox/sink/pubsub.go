// Package sink holds the external delivery adapters used by the outbox relay.
package sink

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/eventcore/pkg/outbox"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSub publishes each entry's payload envelope to one topic. The entry
// attributes become message attributes; ordering is keyed by aggregate.
type PubSub struct {
	pub      publisher
	ordering bool
}

// NewPubSub wraps a v2 publisher handle.
func NewPubSub(p *gcppubsub.Publisher) (*PubSub, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	return &PubSub{pub: &gcpPublisher{Publisher: p}, ordering: p.EnableMessageOrdering}, nil
}

func (s *PubSub) Name() string { return "pubsub" }

func (s *PubSub) Deliver(ctx context.Context, msg outbox.Message) error {
	pm := &gcppubsub.Message{
		Data:       msg.Payload,
		Attributes: msg.Attributes,
	}
	if s.ordering {
		pm.OrderingKey = msg.Envelope.AggregateType + ":" + msg.Envelope.AggregateID
	}
	result := s.pub.Publish(ctx, pm)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(ctx); err != nil {
		if permanentGRPC(err) {
			return outbox.NewNonRetryableError(fmt.Errorf("pubsub publish: %w", err))
		}
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

func permanentGRPC(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.NotFound, codes.FailedPrecondition:
		return true
	}
	return false
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
