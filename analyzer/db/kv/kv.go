// Package kv implements the disk snapshot store: one file per snapshot
// under a per-protocol directory, with a JSON index carrying timestamps and
// content checksums. Writes go through a temp file and an atomic rename;
// the index is rebuilt by a directory scan when missing or corrupt.
package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/types"
)

var log = logrus.WithField("prefix", "db")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	indexFile     = "index.json"
	snapExt       = ".snap"
	tsFormat      = "20060102T150405Z"
	dirPermission = 0o700
)

var (
	putsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govscope_store_puts_total",
		Help: "Snapshots written to the disk store.",
	})
	readsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govscope_store_reads_total",
		Help: "Snapshots read from the disk store.",
	})
	ioRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govscope_store_io_retries_total",
		Help: "Disk operations that needed the single retry.",
	})
)

// indexEntry describes one stored snapshot in the index.
type indexEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	File          string    `json:"file"`
	SHA256        string    `json:"sha256"`
	Provenance    string    `json:"provenance"`
	SchemaVersion int       `json:"schema_version"`
}

type indexDocument struct {
	Version   int                     `json:"version"`
	Protocols map[string][]indexEntry `json:"protocols"`
}

// Store is the disk-backed snapshot store.
type Store struct {
	root string

	mu    sync.RWMutex
	index map[string][]indexEntry // protocol id -> entries, ascending by time

	lockMu     sync.Mutex
	writeLocks map[string]*sync.Mutex // protocol id -> write serialization
}

// NewStore opens the store rooted at path, creating it when absent. A
// missing or unreadable index is rebuilt from the snapshot files on disk.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(path, dirPermission); err != nil {
		return nil, types.NewError(types.KindStorageIO, "", err)
	}
	s := &Store{
		root:       path,
		index:      make(map[string][]indexEntry),
		writeLocks: make(map[string]*sync.Mutex),
	}
	if err := s.loadIndex(); err != nil {
		log.WithError(err).Warn("Index unreadable, rebuilding from snapshot files")
		if err := s.rebuildIndex(); err != nil {
			return nil, err
		}
		if err := s.persistIndex(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close implements iface.Store. The disk store holds no open handles
// between calls.
func (s *Store) Close() error {
	return nil
}

// writeLock hands out the per-protocol write mutex.
func (s *Store) writeLock(protocolID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.writeLocks[protocolID]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[protocolID] = l
	}
	return l
}

// Put implements iface.Store. The store is write-once: a key that already
// exists is rejected, never overwritten. The per-protocol lock is held
// across the snapshot file write and the index update so the two cannot
// diverge under concurrent writers.
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
	sum := sha256.Sum256(encoded)

	lock := s.writeLock(snapshot.Protocol.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, exists := s.lookup(snapshot.Key())
	s.mu.RUnlock()
	if exists {
		return types.Errorf(types.KindValidation, "", "snapshot %s at %s already stored",
			snapshot.Protocol.ID, snapshot.Timestamp.UTC().Format(tsFormat))
	}

	rel := filepath.Join(snapshot.Protocol.ID, snapshot.Timestamp.UTC().Format(tsFormat)+snapExt)
	abs := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), dirPermission); err != nil {
		return types.NewError(types.KindStorageIO, "", err)
	}
	if err := writeAtomic(abs, encoded); err != nil {
		return err
	}
	putsTotal.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertEntry(snapshot.Protocol.ID, indexEntry{
		Timestamp:     snapshot.Timestamp.UTC(),
		File:          rel,
		SHA256:        hex.EncodeToString(sum[:]),
		Provenance:    string(snapshot.Provenance),
		SchemaVersion: snapshot.SchemaVersion,
	})
	return s.persistIndex()
}

// insertEntry keeps the per-protocol entry list ascending. Caller holds the
// lock; Put has already rejected duplicate timestamps.
func (s *Store) insertEntry(protocolID string, entry indexEntry) {
	entries := s.index[protocolID]
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(entry.Timestamp)
	})
	entries = append(entries, indexEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	s.index[protocolID] = entries
}

// Get implements iface.Store. The stored checksum is verified before the
// snapshot is decoded.
func (s *Store) Get(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	entry, ok := s.lookup(key)
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(iface.ErrNotFound, "%s at %s", key.ProtocolID, key.Timestamp)
	}
	return s.readEntry(entry)
}

func (s *Store) lookup(key types.SnapshotKey) (indexEntry, bool) {
	entries := s.index[key.ProtocolID]
	ts := key.Timestamp.UTC()
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(ts)
	})
	if i < len(entries) && entries[i].Timestamp.Equal(ts) {
		return entries[i], true
	}
	return indexEntry{}, false
}

func (s *Store) readEntry(entry indexEntry) (*types.Snapshot, error) {
	encoded, err := readWithRetry(filepath.Join(s.root, entry.File))
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(encoded)
	if hex.EncodeToString(sum[:]) != entry.SHA256 {
		return nil, types.Errorf(types.KindStorageIO, "", "checksum mismatch for %s", entry.File)
	}
	snapshot := new(types.Snapshot)
	if err := json.Unmarshal(encoded, snapshot); err != nil {
		return nil, types.NewError(types.KindStorageIO, "", err)
	}
	if snapshot.SchemaVersion > types.CurrentSchemaVersion {
		return nil, types.Errorf(types.KindStorageIO, "",
			"snapshot %s has schema version %d, newer than supported %d",
			entry.File, snapshot.SchemaVersion, types.CurrentSchemaVersion)
	}
	readsTotal.Inc()
	return snapshot, nil
}

// Nearest implements iface.Store.
func (s *Store) Nearest(ctx context.Context, protocolID string, at time.Time) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	ts := at.UTC()
	s.mu.RLock()
	entries := s.index[protocolID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(ts)
	})
	var entry indexEntry
	ok := i > 0
	if ok {
		entry = entries[i-1]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(iface.ErrNotFound, "%s at or before %s", protocolID, at)
	}
	return s.readEntry(entry)
}

// Latest implements iface.Store.
func (s *Store) Latest(ctx context.Context, protocolID string) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	entries := s.index[protocolID]
	var entry indexEntry
	ok := len(entries) > 0
	if ok {
		entry = entries[len(entries)-1]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(iface.ErrNotFound, protocolID)
	}
	return s.readEntry(entry)
}

// List implements iface.Store.
func (s *Store) List(ctx context.Context, protocolID string, from, to time.Time) ([]types.SnapshotKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]types.SnapshotKey, 0)
	for _, entry := range s.index[protocolID] {
		if !from.IsZero() && entry.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && entry.Timestamp.After(to) {
			continue
		}
		keys = append(keys, types.SnapshotKey{ProtocolID: protocolID, Timestamp: entry.Timestamp})
	}
	return keys, nil
}

func (s *Store) loadIndex() error {
	encoded, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if err != nil {
		return err
	}
	var doc indexDocument
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return err
	}
	index := make(map[string][]indexEntry, len(doc.Protocols))
	for protocolID, entries := range doc.Protocols {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		})
		index[protocolID] = entries
	}
	s.index = index
	return nil
}

// rebuildIndex scans protocol directories for snapshot files and recomputes
// checksums. Files whose names do not parse as timestamps are skipped with a
// warning.
func (s *Store) rebuildIndex() error {
	index := make(map[string][]indexEntry)
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return types.NewError(types.KindStorageIO, "", err)
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		protocolID := dir.Name()
		files, err := os.ReadDir(filepath.Join(s.root, protocolID))
		if err != nil {
			return types.NewError(types.KindStorageIO, "", err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, snapExt) {
				continue
			}
			ts, err := time.Parse(tsFormat, strings.TrimSuffix(name, snapExt))
			if err != nil {
				log.WithField("file", name).Warn("Skipping snapshot file with unparseable name")
				continue
			}
			rel := filepath.Join(protocolID, name)
			encoded, err := readWithRetry(filepath.Join(s.root, rel))
			if err != nil {
				return err
			}
			snapshot := new(types.Snapshot)
			if err := json.Unmarshal(encoded, snapshot); err != nil {
				log.WithError(err).WithField("file", name).Warn("Skipping undecodable snapshot file")
				continue
			}
			sum := sha256.Sum256(encoded)
			index[protocolID] = append(index[protocolID], indexEntry{
				Timestamp:     ts.UTC(),
				File:          rel,
				SHA256:        hex.EncodeToString(sum[:]),
				Provenance:    string(snapshot.Provenance),
				SchemaVersion: snapshot.SchemaVersion,
			})
		}
		sort.Slice(index[protocolID], func(i, j int) bool {
			return index[protocolID][i].Timestamp.Before(index[protocolID][j].Timestamp)
		})
	}
	s.index = index
	return nil
}

// persistIndex writes the index atomically. Caller holds the lock.
func (s *Store) persistIndex() error {
	doc := indexDocument{Version: 1, Protocols: s.index}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return types.NewError(types.KindInternal, "", err)
	}
	return writeAtomic(filepath.Join(s.root, indexFile), encoded)
}

// writeAtomic writes through a temp file and a rename, retrying the whole
// sequence once on failure.
func writeAtomic(path string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			ioRetriesTotal.Inc()
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			lastErr = err
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return types.NewError(types.KindStorageIO, "", lastErr)
}

// readWithRetry reads a file, retrying once.
func readWithRetry(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err == nil {
		return encoded, nil
	}
	ioRetriesTotal.Inc()
	encoded, err = os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.KindStorageIO, "", err)
	}
	return encoded, nil
}
