package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/eventcore/pkg/outbox"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type jetStreamPublisher interface {
	PublishMsg(ctx context.Context, msg *natsgo.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes to <prefix>.<event type> on JetStream. The event id is sent
// as the message id so the stream drops redeliveries inside its duplicate
// window.
type NATS struct {
	js     jetStreamPublisher
	prefix string
}

func NewNATS(js jetStreamPublisher, subjectPrefix string) (*NATS, error) {
	if js == nil {
		return nil, errors.New("jetstream publisher is required")
	}
	prefix := strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if prefix == "" {
		return nil, errors.New("subject prefix is required")
	}
	return &NATS{js: js, prefix: prefix}, nil
}

func (s *NATS) Name() string { return "nats" }

func (s *NATS) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

func (s *NATS) Deliver(ctx context.Context, msg outbox.Message) error {
	if msg.Envelope.EventType == "" {
		return outbox.NewNonRetryableError(errors.New("message has no event type"))
	}
	nm := natsgo.NewMsg(s.Subject(msg.Envelope.EventType))
	nm.Data = msg.Payload
	for k, v := range msg.Attributes {
		nm.Header.Set("x-"+strings.ReplaceAll(k, "_", "-"), v)
	}
	nm.Header.Set(natsgo.MsgIdHdr, msg.Envelope.EventID)

	if _, err := s.js.PublishMsg(ctx, nm); err != nil {
		if errors.Is(err, jetstream.ErrNoStreamResponse) || errors.Is(err, natsgo.ErrNoResponders) {
			return fmt.Errorf("nats publish %s: no stream bound: %w", nm.Subject, err)
		}
		return fmt.Errorf("nats publish %s: %w", nm.Subject, err)
	}
	return nil
}
