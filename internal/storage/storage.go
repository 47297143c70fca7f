package storage

import (
	"context"

	"github.com/chatrelay/internal/model"
)

// Snapshotter persists the full store state as a single document.
// Implementations: file.Store (default), redis.Client, postgres.Client.
// Saves are best-effort: a failure is logged by the caller and never rolls
// back in-memory state.
type Snapshotter interface {
	// Load returns the most recent snapshot, or nil if none was ever saved.
	Load(ctx context.Context) (*model.Snapshot, error)
	// Save rewrites the persisted document with snap.
	Save(ctx context.Context, snap *model.Snapshot) error
	Close() error
}
