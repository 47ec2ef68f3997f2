package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Checkpoints persists the last replayed global sequence per consumer so a
// catch-up replay can resume. Save matches replay.Options.Checkpoint.
type Checkpoints struct {
	client *Client
	key    string
}

func NewCheckpoints(client *Client, consumer string) (*Checkpoints, error) {
	if client == nil {
		return nil, errors.New("redis client required for checkpoints")
	}
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	return &Checkpoints{client: client, key: client.CheckpointKey(consumer)}, nil
}

// Load returns the stored sequence, or 0 when nothing was saved yet.
func (c *Checkpoints) Load(ctx context.Context) (int64, error) {
	raw, err := c.client.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}
	return seq, nil
}

func (c *Checkpoints) Save(ctx context.Context, seq int64) error {
	if err := c.client.Set(ctx, c.key, strconv.FormatInt(seq, 10), 0); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (c *Checkpoints) Reset(ctx context.Context) error {
	return c.client.Del(ctx, c.key)
}
