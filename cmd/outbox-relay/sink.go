package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/eventcore/api/controllers"
	"github.com/angelmondragon/eventcore/pkg/bigquery"
	"github.com/angelmondragon/eventcore/pkg/config"
	"github.com/angelmondragon/eventcore/pkg/enums"
	"github.com/angelmondragon/eventcore/pkg/logger"
	natsclient "github.com/angelmondragon/eventcore/pkg/nats"
	"github.com/angelmondragon/eventcore/pkg/outbox"
	"github.com/angelmondragon/eventcore/pkg/outbox/sink"
	"github.com/angelmondragon/eventcore/pkg/pubsub"
)

type sinkTarget struct {
	sink   outbox.Sink
	pinger controllers.Pinger
	close  func() error
}

// newSink bootstraps the client for the configured sink.
func newSink(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*sinkTarget, error) {
	switch cfg.Outbox.SinkKind() {
	case enums.OutboxSinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		s, err := sink.NewPubSub(client.EventsPublisher())
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &sinkTarget{sink: s, pinger: client, close: client.Close}, nil

	case enums.OutboxSinkNATS:
		client, err := natsclient.NewClient(ctx, cfg.NATS, logg)
		if err != nil {
			return nil, err
		}
		s, err := sink.NewNATS(client.JetStream(), client.SubjectPrefix())
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &sinkTarget{sink: s, pinger: client, close: client.Close}, nil

	case enums.OutboxSinkBigQuery:
		client, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			return nil, err
		}
		s, err := sink.NewBigQuery(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &sinkTarget{sink: s, pinger: client, close: client.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported sink %q", cfg.Outbox.Sink)
	}
}
