// Package mem implements the in-memory snapshot store used by tests and
// ephemeral runs. Snapshots are copied through the codec on the way in and
// out so callers never share a reference with the store.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the in-memory snapshot store.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]map[time.Time][]byte // protocol id -> timestamp -> encoded
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{snapshots: make(map[string]map[time.Time][]byte)}
}

// Close implements iface.Store.
func (s *Store) Close() error {
	return nil
}

// Put implements iface.Store.
func (s *Store) Put(ctx context.Context, snapshot *types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return types.NewError(types.KindCancelled, "", err)
	}
	if snapshot == nil || snapshot.Protocol.ID == "" {
		return types.Errorf(types.KindValidation, "", "snapshot without protocol id")
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return types.NewError(types.KindInternal, "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byTime, ok := s.snapshots[snapshot.Protocol.ID]
	if !ok {
		byTime = make(map[time.Time][]byte)
		s.snapshots[snapshot.Protocol.ID] = byTime
	}
	ts := snapshot.Timestamp.UTC()
	if _, exists := byTime[ts]; exists {
		return types.Errorf(types.KindValidation, "", "snapshot %s at %s already stored",
			snapshot.Protocol.ID, ts)
	}
	byTime[ts] = encoded
	return nil
}

// Get implements iface.Store.
func (s *Store) Get(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	encoded, ok := s.snapshots[key.ProtocolID][key.Timestamp.UTC()]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(iface.ErrNotFound, "%s at %s", key.ProtocolID, key.Timestamp)
	}
	return decode(encoded)
}

// Nearest implements iface.Store.
func (s *Store) Nearest(ctx context.Context, protocolID string, at time.Time) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	var best time.Time
	var encoded []byte
	for ts, enc := range s.snapshots[protocolID] {
		if ts.After(at) {
			continue
		}
		if encoded == nil || ts.After(best) {
			best, encoded = ts, enc
		}
	}
	s.mu.RUnlock()
	if encoded == nil {
		return nil, errors.Wrapf(iface.ErrNotFound, "%s at or before %s", protocolID, at)
	}
	return decode(encoded)
}

// Latest implements iface.Store.
func (s *Store) Latest(ctx context.Context, protocolID string) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	var latest time.Time
	var encoded []byte
	for ts, enc := range s.snapshots[protocolID] {
		if encoded == nil || ts.After(latest) {
			latest, encoded = ts, enc
		}
	}
	s.mu.RUnlock()
	if encoded == nil {
		return nil, errors.Wrap(iface.ErrNotFound, protocolID)
	}
	return decode(encoded)
}

// List implements iface.Store.
func (s *Store) List(ctx context.Context, protocolID string, from, to time.Time) ([]types.SnapshotKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]types.SnapshotKey, 0)
	for ts := range s.snapshots[protocolID] {
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		keys = append(keys, types.SnapshotKey{ProtocolID: protocolID, Timestamp: ts})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Timestamp.Before(keys[j].Timestamp) })
	return keys, nil
}

func decode(encoded []byte) (*types.Snapshot, error) {
	snapshot := new(types.Snapshot)
	if err := json.Unmarshal(encoded, snapshot); err != nil {
		return nil, types.NewError(types.KindStorageIO, "", err)
	}
	return snapshot, nil
}
