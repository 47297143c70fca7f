// Package redis persists snapshots as a single JSON value under one key.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatrelay/internal/model"
	"github.com/redis/go-redis/v9"
)

const snapshotKey = "chatrelay:snapshot"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Load(ctx context.Context) (*model.Snapshot, error) {
	val, err := c.cli.Get(ctx, snapshotKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis.Load: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("redis.Load parse: %w", err)
	}
	return &snap, nil
}

// Save stores the document without a TTL — the snapshot lives until the next rewrite.
func (c *Client) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis.Save marshal: %w", err)
	}
	if err := c.cli.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis.Save: %w", err)
	}
	return nil
}
