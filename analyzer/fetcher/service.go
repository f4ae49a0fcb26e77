// Package fetcher coordinates external data acquisition: fallback chains
// over the provider registry, per-source retries with exponential backoff,
// response caching and rate limiting. It hands back normalized canonical
// records tagged with the provenance tier that produced them.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/govscope/govscope/analyzer/normalize"
	"github.com/govscope/govscope/analyzer/providers"
	"github.com/govscope/govscope/analyzer/simulator"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

var log = logrus.WithField("prefix", "fetcher")

// Service walks fallback chains and returns normalized data. A nil simulator
// disables the degrade-to-simulated tier: chain exhaustion then surfaces as
// an error instead.
type Service struct {
	cfg        *config.Config
	registry   *providers.Registry
	cache      *responseCache
	limiter    *limiter
	sim        *simulator.Generator
	simProfile simulator.Profile
	simHolders int
}

// New builds the fetch coordinator.
func New(cfg *config.Config, registry *providers.Registry, sim *simulator.Generator) (*Service, error) {
	cache, err := newResponseCache(cfg.Cache.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:        cfg,
		registry:   registry,
		cache:      cache,
		limiter:    newLimiter(cfg),
		sim:        sim,
		simProfile: simulator.ProfilePowerLaw,
		simHolders: 250,
	}, nil
}

// SetSimulatorFallback overrides the shape of degraded synthetic data.
func (s *Service) SetSimulatorFallback(profile simulator.Profile, holders int) {
	s.simProfile = profile
	if holders > 0 {
		s.simHolders = holders
	}
}

// HoldersResult is the normalized holder set for one protocol and reference
// time. Scale is the power-of-ten divisor applied to raw amounts.
type HoldersResult struct {
	Holders    []types.HolderBalance
	Supply     uint64
	Scale      uint64
	Provenance types.Provenance
	Warnings   []string
}

// ProposalsResult is the normalized proposal set.
type ProposalsResult struct {
	Proposals  []types.Proposal
	Provenance types.Provenance
	Warnings   []string
}

// VotesResult is the normalized ballot set across the requested proposals.
type VotesResult struct {
	Votes      []types.Vote
	Provenance types.Provenance
	Warnings   []string
}

// DelegationsResult is the normalized active delegation set.
type DelegationsResult struct {
	Delegations []types.Delegation
	Provenance  types.Provenance
	Warnings    []string
}

// walkChain tries each source in the kind's fallback chain. attempt performs
// the fetch and normalization against one adapter and captures its result;
// retryable failures back off against the same source, everything else
// advances the chain. Cancellation aborts immediately.
func (s *Service) walkChain(ctx context.Context, kind string, attempt func(providers.Adapter) error) (types.Provenance, []string, error) {
	chain := s.cfg.FallbackChain[kind]
	var warnings []string
	for i, id := range chain {
		adapter, ok := s.registry.Lookup(id)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: source not registered", id))
			continue
		}
		r := newRetrier(s.cfg.Retry)
		for {
			if err := ctx.Err(); err != nil {
				return "", warnings, types.NewError(types.KindCancelled, id, err)
			}
			callErr := s.attemptOnce(ctx, id, adapter, attempt)
			if callErr == nil {
				fetchAttemptsTotal.WithLabelValues(id, kind, outcomeOK).Inc()
				return adapter.Tier(), warnings, nil
			}
			if types.IsKind(callErr, types.KindCancelled) {
				return "", warnings, callErr
			}
			if wait, again := r.next(callErr); again {
				fetchAttemptsTotal.WithLabelValues(id, kind, outcomeRetry).Inc()
				log.WithError(callErr).WithFields(logrus.Fields{
					"source": id,
					"kind":   kind,
					"wait":   wait,
					"state":  r.state,
				}).Debug("Retrying source after backoff")
				if err := sleep(ctx, wait); err != nil {
					return "", warnings, err
				}
				continue
			}
			outcome := outcomeFailure
			if types.SkipSource(callErr) {
				outcome = outcomeSkip
			}
			fetchAttemptsTotal.WithLabelValues(id, kind, outcome).Inc()
			warnings = append(warnings, fmt.Sprintf("%s: %v", id, callErr))
			if i < len(chain)-1 {
				fallbackAdvancesTotal.WithLabelValues(kind, id).Inc()
				log.WithError(callErr).WithFields(logrus.Fields{
					"source": id,
					"kind":   kind,
					"next":   chain[i+1],
				}).Warn("Source failed, advancing fallback chain")
			}
			break
		}
	}
	return "", warnings, types.Errorf(types.KindTransientUnavailable, "",
		"all %s sources exhausted", kind)
}

func (s *Service) attemptOnce(ctx context.Context, id string, adapter providers.Adapter, attempt func(providers.Adapter) error) error {
	release, err := s.limiter.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return attempt(adapter)
}

// Holders fetches and normalizes the holder set at the reference time.
func (s *Service) Holders(ctx context.Context, protocol config.Protocol, at time.Time) (*HoldersResult, error) {
	key := cacheKey(config.KindHolders, protocol.ID, at, "")
	if entry, ok := s.cache.get(key); ok {
		cacheHitsTotal.WithLabelValues(config.KindHolders).Inc()
		cached := entry.value.(*HoldersResult)
		out := *cached
		out.Provenance = types.ProvenanceCached
		return &out, nil
	}
	cacheMissesTotal.WithLabelValues(config.KindHolders).Inc()

	var result *HoldersResult
	tier, warnings, err := s.walkChain(ctx, config.KindHolders, func(a providers.Adapter) error {
		page, err := a.Holders(ctx, protocol, at, 0, "")
		if err != nil {
			return err
		}
		holders, scale, normWarnings, err := normalize.Holders(a.ID(), page.Holders, page.Supply, s.cfg.MinSurvivors)
		if err != nil {
			return err
		}
		supply := normalize.Apply(page.Supply, scale)
		if supply == 0 {
			for _, h := range holders {
				supply += h.Balance
			}
		}
		result = &HoldersResult{Holders: holders, Supply: supply, Scale: scale, Warnings: normWarnings}
		return nil
	})
	if err != nil {
		if types.IsKind(err, types.KindCancelled) || s.sim == nil {
			return nil, err
		}
		return s.simulateHolders(protocol, warnings), nil
	}
	result.Provenance = tier
	result.Warnings = append(warnings, result.Warnings...)
	s.cache.put(key, &cacheEntry{value: result, provenance: tier, warnings: result.Warnings}, s.cfg.Cache.HoldersTTL)
	return result, nil
}

// Proposals fetches and normalizes proposals created in [since, until).
// scale is the holder dataset scale, applied here so cross-set power ratios
// stay comparable.
func (s *Service) Proposals(ctx context.Context, protocol config.Protocol, since, until time.Time, scale uint64) (*ProposalsResult, error) {
	key := cacheKey(config.KindProposals, protocol.ID, until, fmt.Sprintf("%d|%d", since.Unix(), scale))
	if entry, ok := s.cache.get(key); ok {
		cacheHitsTotal.WithLabelValues(config.KindProposals).Inc()
		cached := entry.value.(*ProposalsResult)
		out := *cached
		out.Provenance = types.ProvenanceCached
		return &out, nil
	}
	cacheMissesTotal.WithLabelValues(config.KindProposals).Inc()

	var result *ProposalsResult
	tier, warnings, err := s.walkChain(ctx, config.KindProposals, func(a providers.Adapter) error {
		raw, err := a.Proposals(ctx, protocol, since, until)
		if err != nil {
			return err
		}
		proposals, normWarnings, err := normalize.Proposals(a.ID(), protocol.ID, raw, scale, s.cfg.MinSurvivors)
		if err != nil {
			return err
		}
		result = &ProposalsResult{Proposals: proposals, Warnings: normWarnings}
		return nil
	})
	if err != nil {
		if types.IsKind(err, types.KindCancelled) || s.sim == nil {
			return nil, err
		}
		proposals, _, _ := s.simulateGovernance(protocol, since, until)
		simulatedDegradesTotal.WithLabelValues(config.KindProposals).Inc()
		return &ProposalsResult{
			Proposals:  proposals,
			Provenance: types.ProvenanceSimulated,
			Warnings:   append(warnings, "all proposal sources exhausted; serving simulated data"),
		}, nil
	}
	result.Provenance = tier
	result.Warnings = append(warnings, result.Warnings...)
	s.cache.put(key, &cacheEntry{value: result, provenance: tier, warnings: result.Warnings}, s.cfg.Cache.ProposalsTTL)
	return result, nil
}

// Votes fetches and normalizes ballots for every given proposal from a
// single source, so one snapshot's ballots share a provenance tier.
func (s *Service) Votes(ctx context.Context, protocol config.Protocol, proposals []types.Proposal, scale uint64) (*VotesResult, error) {
	if len(proposals) == 0 {
		return &VotesResult{Votes: []types.Vote{}, Provenance: types.ProvenanceLive}, nil
	}
	extra := fmt.Sprintf("%s..%s|%d", proposals[0].ID, proposals[len(proposals)-1].ID, scale)
	key := cacheKey(config.KindVotes, protocol.ID, proposals[len(proposals)-1].VotingEnd, extra)
	if entry, ok := s.cache.get(key); ok {
		cacheHitsTotal.WithLabelValues(config.KindVotes).Inc()
		cached := entry.value.(*VotesResult)
		out := *cached
		out.Provenance = types.ProvenanceCached
		return &out, nil
	}
	cacheMissesTotal.WithLabelValues(config.KindVotes).Inc()

	var result *VotesResult
	tier, warnings, err := s.walkChain(ctx, config.KindVotes, func(a providers.Adapter) error {
		raw := make([]providers.RawVote, 0, len(proposals)*8)
		for i := range proposals {
			batch, err := a.Votes(ctx, protocol, proposals[i].ID)
			if err != nil {
				return err
			}
			raw = append(raw, batch...)
		}
		votes, normWarnings, err := normalize.Votes(a.ID(), raw, scale, s.cfg.MinSurvivors)
		if err != nil {
			return err
		}
		result = &VotesResult{Votes: votes, Warnings: normWarnings}
		return nil
	})
	if err != nil {
		if types.IsKind(err, types.KindCancelled) || s.sim == nil {
			return nil, err
		}
		_, votes, _ := s.simulateGovernance(protocol, windowStart(proposals), windowEnd(proposals))
		simulatedDegradesTotal.WithLabelValues(config.KindVotes).Inc()
		return &VotesResult{
			Votes:      votes,
			Provenance: types.ProvenanceSimulated,
			Warnings:   append(warnings, "all vote sources exhausted; serving simulated data"),
		}, nil
	}
	result.Provenance = tier
	result.Warnings = append(warnings, result.Warnings...)
	s.cache.put(key, &cacheEntry{value: result, provenance: tier, warnings: result.Warnings}, s.cfg.Cache.VotesTTL)
	return result, nil
}

// Delegations fetches and normalizes delegation events in [since, until).
func (s *Service) Delegations(ctx context.Context, protocol config.Protocol, since, until time.Time, scale uint64) (*DelegationsResult, error) {
	key := cacheKey(config.KindDelegations, protocol.ID, until, fmt.Sprintf("%d|%d", since.Unix(), scale))
	if entry, ok := s.cache.get(key); ok {
		cacheHitsTotal.WithLabelValues(config.KindDelegations).Inc()
		cached := entry.value.(*DelegationsResult)
		out := *cached
		out.Provenance = types.ProvenanceCached
		return &out, nil
	}
	cacheMissesTotal.WithLabelValues(config.KindDelegations).Inc()

	var result *DelegationsResult
	tier, warnings, err := s.walkChain(ctx, config.KindDelegations, func(a providers.Adapter) error {
		raw, err := a.Delegations(ctx, protocol, since, until)
		if err != nil {
			return err
		}
		delegations, normWarnings, err := normalize.Delegations(a.ID(), raw, scale, s.cfg.MinSurvivors)
		if err != nil {
			return err
		}
		result = &DelegationsResult{Delegations: delegations, Warnings: normWarnings}
		return nil
	})
	if err != nil {
		if types.IsKind(err, types.KindCancelled) || s.sim == nil {
			return nil, err
		}
		_, _, delegations := s.simulateGovernance(protocol, since, until)
		simulatedDegradesTotal.WithLabelValues(config.KindDelegations).Inc()
		return &DelegationsResult{
			Delegations: delegations,
			Provenance:  types.ProvenanceSimulated,
			Warnings:    append(warnings, "all delegation sources exhausted; serving simulated data"),
		}, nil
	}
	result.Provenance = tier
	result.Warnings = append(warnings, result.Warnings...)
	s.cache.put(key, &cacheEntry{value: result, provenance: tier, warnings: result.Warnings}, s.cfg.Cache.VotesTTL)
	return result, nil
}

func (s *Service) simulateHolders(protocol config.Protocol, warnings []string) *HoldersResult {
	simulatedDegradesTotal.WithLabelValues(config.KindHolders).Inc()
	holders := s.sim.Holders(simProtocol(protocol), s.simProfile, s.simHolders)
	var supply uint64
	for _, h := range holders {
		supply += h.Balance
	}
	return &HoldersResult{
		Holders:    holders,
		Supply:     supply,
		Scale:      1,
		Provenance: types.ProvenanceSimulated,
		Warnings:   append(warnings, "all holder sources exhausted; serving simulated data"),
	}
}

// simulateGovernance regenerates the protocol's synthetic activity; the
// deterministic per-(protocol, kind) streams make repeated degrades agree.
func (s *Service) simulateGovernance(protocol config.Protocol, since, until time.Time) ([]types.Proposal, []types.Vote, []types.Delegation) {
	p := simProtocol(protocol)
	holders := s.sim.Holders(p, s.simProfile, s.simHolders)
	return s.sim.Governance(p, holders, since, until)
}

func simProtocol(p config.Protocol) types.Protocol {
	return types.Protocol{
		ID:       p.ID,
		Name:     p.Name,
		Symbol:   p.Symbol,
		Decimals: p.Decimals,
		Contract: p.Contract,
	}
}

func windowStart(proposals []types.Proposal) time.Time {
	start := proposals[0].Created
	for _, p := range proposals[1:] {
		if p.Created.Before(start) {
			start = p.Created
		}
	}
	return start
}

func windowEnd(proposals []types.Proposal) time.Time {
	end := proposals[0].VotingEnd
	for _, p := range proposals[1:] {
		if p.VotingEnd.After(end) {
			end = p.VotingEnd
		}
	}
	return end
}
