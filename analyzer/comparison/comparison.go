// Package comparison builds cross-protocol metric tables from stored
// snapshots. Protocols are aligned by the nearest snapshot at or before the
// reference time within a bounded skew, each cell carries the provenance of
// the snapshot it came from, and a weighted ranking orders protocols by the
// selected metrics.
package comparison

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/types"
)

var log = logrus.WithField("prefix", "comparison")

// DefaultMaxSkew bounds how far before the reference time an aligned
// snapshot may sit.
const DefaultMaxSkew = 24 * time.Hour

// Params tunes table construction.
type Params struct {
	// MaxSkew is the maximum distance between the reference time and an
	// aligned snapshot. Zero applies DefaultMaxSkew.
	MaxSkew time.Duration
	// Weights assigns ranking weight per selector string. Selectors
	// without a weight contribute with weight 1.
	Weights map[string]float64
}

func (p *Params) applyDefaults() {
	if p.MaxSkew <= 0 {
		p.MaxSkew = DefaultMaxSkew
	}
}

// Cell is one (metric, protocol) table entry.
type Cell struct {
	ProtocolID string           `json:"protocol_id"`
	Value      float64          `json:"value"`
	Delta      *float64         `json:"delta,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Provenance types.Provenance `json:"provenance"`
	Missing    bool             `json:"missing,omitempty"`
}

// RankEntry is one protocol's weighted standing.
type RankEntry struct {
	ProtocolID string  `json:"protocol_id"`
	Score      float64 `json:"score"`
}

// Table is the cross-protocol comparison result. Rows follow the selector
// order, columns the protocol order of the request.
type Table struct {
	At        time.Time              `json:"at"`
	Selectors []types.MetricSelector `json:"selectors"`
	Protocols []string               `json:"protocols"`
	Rows      [][]Cell               `json:"rows"`
	Ranking   []RankEntry            `json:"ranking"`
}

// aligned is a protocol's resolved snapshot pair: the cell source and the
// snapshot immediately before it, for deltas.
type aligned struct {
	current  *types.Snapshot
	previous *types.Snapshot
}

// Service builds comparison tables over a snapshot store. Alignment results
// are memoized briefly so repeated comparisons against the same reference
// time avoid redundant store reads.
type Service struct {
	store iface.Store
	memo  *gocache.Cache
}

// New builds the comparison service.
func New(store iface.Store) *Service {
	return &Service{
		store: store,
		memo:  gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Compare builds the table for the given protocols and selectors at the
// reference time.
func (s *Service) Compare(ctx context.Context, protocolIDs []string, selectors []types.MetricSelector, at time.Time, params Params) (*Table, error) {
	params.applyDefaults()
	if len(protocolIDs) == 0 {
		return nil, types.Errorf(types.KindValidation, "", "no protocols to compare")
	}
	if len(selectors) == 0 {
		return nil, types.Errorf(types.KindValidation, "", "no metric selectors")
	}

	alignments := make(map[string]*aligned, len(protocolIDs))
	for _, id := range protocolIDs {
		a, err := s.align(ctx, id, at, params.MaxSkew)
		if err != nil {
			return nil, err
		}
		alignments[id] = a
	}

	table := &Table{
		At:        at.UTC(),
		Selectors: selectors,
		Protocols: protocolIDs,
		Rows:      make([][]Cell, len(selectors)),
	}
	for i, sel := range selectors {
		row := make([]Cell, len(protocolIDs))
		for j, id := range protocolIDs {
			row[j] = buildCell(id, sel, alignments[id])
		}
		table.Rows[i] = row
	}
	table.Ranking = rank(table, params.Weights)
	return table, nil
}

// align resolves the nearest snapshot at or before the reference time
// within the skew bound, plus its predecessor.
func (s *Service) align(ctx context.Context, protocolID string, at time.Time, maxSkew time.Duration) (*aligned, error) {
	key := fmt.Sprintf("%s|%d|%d", protocolID, at.UTC().Unix(), maxSkew)
	if v, ok := s.memo.Get(key); ok {
		return v.(*aligned), nil
	}

	a := &aligned{}
	current, err := s.store.Nearest(ctx, protocolID, at)
	switch {
	case errors.Is(err, iface.ErrNotFound):
	case err != nil:
		return nil, err
	case at.Sub(current.Timestamp) <= maxSkew:
		a.current = current
		previous, err := s.store.Nearest(ctx, protocolID, current.Timestamp.Add(-time.Nanosecond))
		if err != nil && !errors.Is(err, iface.ErrNotFound) {
			// A missing predecessor only suppresses deltas.
			return nil, err
		}
		a.previous = previous
	}
	if a.current == nil {
		log.WithFields(logrus.Fields{
			"protocol": protocolID,
			"at":       at,
		}).Debug("No aligned snapshot inside skew bound")
	}
	s.memo.SetDefault(key, a)
	return a, nil
}

func buildCell(protocolID string, sel types.MetricSelector, a *aligned) Cell {
	cell := Cell{ProtocolID: protocolID, Missing: true}
	if a == nil || a.current == nil {
		return cell
	}
	value, ok := sel.Project(a.current)
	if !ok {
		cell.Timestamp = a.current.Timestamp
		cell.Provenance = a.current.Provenance
		return cell
	}
	cell.Value = value
	cell.Timestamp = a.current.Timestamp
	cell.Provenance = a.current.Provenance
	cell.Missing = false
	if a.previous != nil {
		if prev, ok := sel.Project(a.previous); ok {
			delta := value - prev
			cell.Delta = &delta
		}
	}
	return cell
}

// rank scores protocols by min-max normalizing each metric row and summing
// weighted normalized values. Missing cells contribute nothing. Ties break
// by protocol id so output is stable.
func rank(table *Table, weights map[string]float64) []RankEntry {
	scores := make(map[string]float64, len(table.Protocols))
	for i, sel := range table.Selectors {
		row := table.Rows[i]
		lo, hi, any := rowBounds(row)
		if !any {
			continue
		}
		weight := 1.0
		if w, ok := weights[sel.String()]; ok {
			weight = w
		}
		for _, cell := range row {
			if cell.Missing {
				continue
			}
			norm := 0.0
			if hi > lo {
				norm = (cell.Value - lo) / (hi - lo)
			}
			scores[cell.ProtocolID] += weight * norm
		}
	}
	ranking := make([]RankEntry, 0, len(table.Protocols))
	for _, id := range table.Protocols {
		ranking = append(ranking, RankEntry{ProtocolID: id, Score: scores[id]})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score > ranking[j].Score
		}
		return strings.Compare(ranking[i].ProtocolID, ranking[j].ProtocolID) < 0
	})
	return ranking
}

func rowBounds(row []Cell) (lo, hi float64, any bool) {
	for _, cell := range row {
		if cell.Missing {
			continue
		}
		if !any {
			lo, hi, any = cell.Value, cell.Value, true
			continue
		}
		if cell.Value < lo {
			lo = cell.Value
		}
		if cell.Value > hi {
			hi = cell.Value
		}
	}
	return lo, hi, any
}
