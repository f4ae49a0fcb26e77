// Package engine orchestrates snapshot construction: parallel data
// acquisition through the fetch coordinator, metric computation, invariant
// checks and persistence. One BuildSnapshot call produces one immutable
// snapshot.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/govscope/govscope/analyzer/concentration"
	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/fetcher"
	"github.com/govscope/govscope/analyzer/normalize"
	"github.com/govscope/govscope/analyzer/participation"
	"github.com/govscope/govscope/analyzer/simulator"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/analyzer/votingblocks"
	"github.com/govscope/govscope/config"
)

var log = logrus.WithField("prefix", "engine")

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_snapshot_builds_total",
		Help: "Snapshot builds by protocol and outcome.",
	}, []string{"protocol", "outcome"})
	buildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "govscope_snapshot_build_seconds",
		Help:    "Wall time of snapshot builds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// DefaultLookback is the governance activity window behind the reference
// time when the caller does not override it.
const DefaultLookback = 90 * 24 * time.Hour

// BuildOptions tunes one snapshot build.
type BuildOptions struct {
	// At is the snapshot reference time. Zero means now.
	At time.Time
	// Lookback is the governance activity window behind At.
	Lookback time.Duration
	// Persist stores the finished snapshot.
	Persist bool
}

// Engine wires the fetch coordinator, the metric computations and the
// snapshot store.
type Engine struct {
	cfg   *config.Config
	fetch *fetcher.Service
	store iface.Store
	sim   *simulator.Generator
}

// New builds the engine.
func New(cfg *config.Config, fetch *fetcher.Service, store iface.Store, sim *simulator.Generator) *Engine {
	return &Engine{cfg: cfg, fetch: fetch, store: store, sim: sim}
}

// BuildSnapshot acquires all four data kinds for the protocol, computes the
// metric set and returns the assembled snapshot. The build runs under the
// configured deadline; the snapshot's provenance is the weakest tier among
// its inputs.
func (e *Engine) BuildSnapshot(ctx context.Context, protocolID string, opts BuildOptions) (*types.Snapshot, error) {
	ctx, span := trace.StartSpan(ctx, "engine.BuildSnapshot")
	defer span.End()
	started := time.Now()

	protocol, ok := e.cfg.ProtocolByID(protocolID)
	if !ok {
		return nil, types.Errorf(types.KindValidation, "", "unknown protocol %q", protocolID)
	}
	if opts.At.IsZero() {
		opts.At = time.Now()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if e.cfg.BuildDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.BuildDeadline)
		defer cancel()
	}

	buildID := uuid.New().String()
	buildLog := log.WithFields(logrus.Fields{
		"build":    buildID,
		"protocol": protocolID,
		"at":       opts.At.UTC().Format(time.RFC3339),
	})
	buildLog.Info("Building snapshot")

	snapshot, err := e.acquire(ctx, protocol, opts, buildLog)
	if err != nil {
		buildsTotal.WithLabelValues(protocolID, "failure").Inc()
		return nil, err
	}
	if err := normalize.CheckSnapshot(snapshot); err != nil {
		buildsTotal.WithLabelValues(protocolID, "failure").Inc()
		return nil, err
	}
	e.computeMetrics(ctx, snapshot)

	if opts.Persist {
		if err := e.store.Put(ctx, snapshot); err != nil {
			buildsTotal.WithLabelValues(protocolID, "failure").Inc()
			return nil, err
		}
	}
	buildsTotal.WithLabelValues(protocolID, "ok").Inc()
	buildSeconds.Observe(time.Since(started).Seconds())
	buildLog.WithFields(logrus.Fields{
		"holders":    len(snapshot.Holders),
		"proposals":  len(snapshot.Proposals),
		"votes":      len(snapshot.Votes),
		"provenance": snapshot.Provenance,
		"elapsed":    time.Since(started),
	}).Info("Snapshot built")
	return snapshot, nil
}

// acquire fetches the four data kinds. Holders come first because the other
// kinds share the holder dataset scale; proposals gate votes, while
// delegations fetch concurrently with the proposal+vote sequence.
func (e *Engine) acquire(ctx context.Context, protocol config.Protocol, opts BuildOptions, buildLog *logrus.Entry) (*types.Snapshot, error) {
	ctx, span := trace.StartSpan(ctx, "engine.acquire")
	defer span.End()

	holders, err := e.fetch.Holders(ctx, protocol, opts.At)
	if err != nil {
		return nil, err
	}
	since := opts.At.Add(-opts.Lookback)

	var (
		proposals   *fetcher.ProposalsResult
		votes       *fetcher.VotesResult
		delegations *fetcher.DelegationsResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if proposals, err = e.fetch.Proposals(gctx, protocol, since, opts.At, holders.Scale); err != nil {
			return err
		}
		votes, err = e.fetch.Votes(gctx, protocol, proposals.Proposals, holders.Scale)
		return err
	})
	g.Go(func() error {
		var err error
		delegations, err = e.fetch.Delegations(gctx, protocol, since, opts.At, holders.Scale)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	provenance := holders.Provenance.
		Weakest(proposals.Provenance).
		Weakest(votes.Provenance).
		Weakest(delegations.Provenance)
	warnings := make([]string, 0,
		len(holders.Warnings)+len(proposals.Warnings)+len(votes.Warnings)+len(delegations.Warnings))
	warnings = append(warnings, holders.Warnings...)
	warnings = append(warnings, proposals.Warnings...)
	warnings = append(warnings, votes.Warnings...)
	warnings = append(warnings, delegations.Warnings...)
	if provenance != types.ProvenanceLive {
		buildLog.WithField("provenance", provenance).Warn("Snapshot assembled below live tier")
	}

	return &types.Snapshot{
		SchemaVersion: types.CurrentSchemaVersion,
		Protocol: types.Protocol{
			ID:          protocol.ID,
			Name:        protocol.Name,
			Symbol:      protocol.Symbol,
			Decimals:    protocol.Decimals,
			TotalSupply: holders.Supply,
			Contract:    protocol.Contract,
		},
		Timestamp:   opts.At.UTC(),
		Provenance:  provenance,
		Scale:       holders.Scale,
		Holders:     holders.Holders,
		Proposals:   proposals.Proposals,
		Votes:       votes.Votes,
		Delegations: delegations.Delegations,
		Warnings:    warnings,
	}, nil
}

// computeMetrics fills the snapshot's metric set. The three analyses are
// independent and run concurrently; they only read the snapshot's sets.
func (e *Engine) computeMetrics(ctx context.Context, snapshot *types.Snapshot) {
	_, span := trace.StartSpan(ctx, "engine.computeMetrics")
	defer span.End()

	balances := make([]uint64, len(snapshot.Holders))
	for i, h := range snapshot.Holders {
		balances[i] = h.Balance
	}
	metrics := &types.MetricSet{}
	var g errgroup.Group
	g.Go(func() error {
		metrics.Concentration = concentration.Compute(balances)
		return nil
	})
	g.Go(func() error {
		metrics.Participation = participation.Compute(
			snapshot.Holders, snapshot.Proposals, snapshot.Votes, snapshot.Delegations,
			participation.Params{WhaleTopK: e.cfg.WhaleTopK})
		return nil
	})
	g.Go(func() error {
		metrics.VotingBlocks = votingblocks.Analyze(
			snapshot.Holders, snapshot.Proposals, snapshot.Votes,
			votingblocks.Params{
				MinOverlap:          e.cfg.VotingBlocks.MinOverlap,
				SimilarityThreshold: e.cfg.VotingBlocks.SimilarityThreshold,
				LargeComponentSplit: e.cfg.VotingBlocks.LargeComponentSplit,
				WhaleTopK:           e.cfg.WhaleTopK,
			})
		return nil
	})
	// The analysis goroutines cannot fail; Wait only joins them.
	_ = g.Wait()
	snapshot.Metrics = metrics
}

// SimulateSnapshot builds a fully synthetic snapshot under the given profile
// and computes its metric set. Deterministic for a fixed seed and arguments.
func (e *Engine) SimulateSnapshot(ctx context.Context, protocolID string, profile simulator.Profile, holders int, at time.Time, persist bool) (*types.Snapshot, error) {
	protocol, ok := e.cfg.ProtocolByID(protocolID)
	if !ok {
		return nil, types.Errorf(types.KindValidation, "", "unknown protocol %q", protocolID)
	}
	if at.IsZero() {
		at = time.Now()
	}
	snapshot := e.sim.Snapshot(types.Protocol{
		ID:       protocol.ID,
		Name:     protocol.Name,
		Symbol:   protocol.Symbol,
		Decimals: protocol.Decimals,
		Contract: protocol.Contract,
	}, profile, holders, at)
	var supply uint64
	for _, h := range snapshot.Holders {
		supply += h.Balance
	}
	snapshot.Protocol.TotalSupply = supply
	e.computeMetrics(ctx, snapshot)
	if persist {
		if err := e.store.Put(ctx, snapshot); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}
