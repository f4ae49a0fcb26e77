// Package db selects a snapshot store backend and implements the
// store-agnostic time-series query.
package db

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/db/kv"
	"github.com/govscope/govscope/analyzer/db/mem"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

// NewStore opens the backend named by the configuration.
func NewStore(cfg config.SnapshotStore) (iface.Store, error) {
	switch cfg.Backend {
	case "mem":
		return mem.NewStore(), nil
	case "disk":
		return kv.NewStore(cfg.Path)
	}
	return nil, errors.Errorf("unknown snapshot store backend %q", cfg.Backend)
}

// Series projects one metric across the protocol's snapshots in [from, to],
// ordered by timestamp. A snapshot from which the metric cannot be projected
// contributes a gap point; values are never interpolated.
func Series(ctx context.Context, store iface.Store, protocolID string, sel types.MetricSelector, from, to time.Time) ([]types.SeriesPoint, error) {
	keys, err := store.List(ctx, protocolID, from, to)
	if err != nil {
		return nil, err
	}
	points := make([]types.SeriesPoint, 0, len(keys))
	for _, key := range keys {
		snapshot, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		point := types.SeriesPoint{
			Timestamp:  snapshot.Timestamp,
			Provenance: snapshot.Provenance,
		}
		if value, ok := sel.Project(snapshot); ok {
			point.Value = value
		} else {
			point.Gap = true
		}
		points = append(points, point)
	}
	return points, nil
}
