// Package postgres persists snapshots as a single JSONB row, upserted on
// every save.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatrelay/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Client struct {
	pool *pgxpool.Pool
}

// New wraps an established pool and ensures the snapshot table exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Client, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshot (
			id         INT PRIMARY KEY CHECK (id = 1),
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) Load(ctx context.Context) (*model.Snapshot, error) {
	var data []byte
	err := c.pool.QueryRow(ctx, `SELECT doc FROM snapshot WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.Load: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("postgres.Load parse: %w", err)
	}
	return &snap, nil
}

func (c *Client) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres.Save marshal: %w", err)
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO snapshot (id, doc, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		data)
	if err != nil {
		return fmt.Errorf("postgres.Save: %w", err)
	}
	return nil
}
