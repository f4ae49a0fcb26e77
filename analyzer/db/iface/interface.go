// Package iface defines the snapshot store interface. Both the disk and the
// in-memory backend implement it; callers never depend on a concrete
// backend.
package iface

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/govscope/govscope/analyzer/types"
)

// ErrNotFound is returned when no snapshot matches the requested key or
// range.
var ErrNotFound = errors.New("snapshot not found")

// Store persists immutable governance snapshots keyed by
// (protocol, timestamp). Implementations are safe for concurrent use and
// must hand out copies: a stored snapshot is never mutated and never shared
// with a caller by reference.
type Store interface {
	// Put stores a snapshot. The store is write-once: storing a key that
	// already exists fails with a validation error.
	Put(ctx context.Context, snapshot *types.Snapshot) error
	// Get retrieves a snapshot by exact key.
	Get(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, error)
	// Nearest retrieves the most recent snapshot at or before the given
	// time.
	Nearest(ctx context.Context, protocolID string, at time.Time) (*types.Snapshot, error)
	// Latest retrieves the most recent snapshot for a protocol.
	Latest(ctx context.Context, protocolID string) (*types.Snapshot, error)
	// List returns the stored keys for a protocol inside [from, to],
	// ordered by ascending timestamp. Zero bounds are open.
	List(ctx context.Context, protocolID string, from, to time.Time) ([]types.SnapshotKey, error)
	// Close releases backend resources.
	Close() error
}
