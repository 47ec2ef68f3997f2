package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/eventcore/pkg/config"
	"github.com/angelmondragon/eventcore/pkg/logger"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamSetupTimeout = 10 * natsgo.DefaultTimeout
	duplicateWindow    = 2 * time.Minute
)

var errClientNotInitialized = errors.New("nats client not initialized")

// Client owns the NATS connection and the JetStream stream events are
// published to.
type Client struct {
	conn          *natsgo.Conn
	js            jetstream.JetStream
	stream        string
	subjectPrefix string
}

// NewClient connects to NATS and creates or updates the events stream.
func NewClient(ctx context.Context, cfg config.NATSConfig, logg *logger.Logger) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = natsgo.DefaultURL
	}
	stream := strings.ToUpper(strings.TrimSpace(cfg.Stream))
	if stream == "" {
		return nil, errors.New("nats stream name is required")
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		return nil, errors.New("nats subject prefix is required")
	}

	conn, err := natsgo.Connect(url, natsgo.Name("eventcore"), natsgo.MaxReconnects(3))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, streamSetupTimeout)
	defer cancel()
	_, err = js.CreateOrUpdateStream(setupCtx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", stream, err)
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"stream": stream, "subject_prefix": prefix})
		logg.Info(ctx, "nats jetstream client initialized")
	}

	return &Client{conn: conn, js: js, stream: stream, subjectPrefix: prefix}, nil
}

// JetStream returns the JetStream handle.
func (c *Client) JetStream() jetstream.JetStream {
	if c == nil {
		return nil
	}
	return c.js
}

func (c *Client) Stream() string {
	if c == nil {
		return ""
	}
	return c.stream
}

func (c *Client) SubjectPrefix() string {
	if c == nil {
		return ""
	}
	return c.subjectPrefix
}

// Ping round-trips to the server and checks the stream is still there.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errClientNotInitialized
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	if _, err := c.js.Stream(ctx, c.stream); err != nil {
		return fmt.Errorf("nats stream %s: %w", c.stream, err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.js.CleanupPublisher()
	c.conn.Close()
	return nil
}
