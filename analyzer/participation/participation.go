// Package participation computes governance participation measures for a
// snapshot. Turnout is power-weighted throughout; unique voter counts are
// reported as separate fields and never substituted for turnout.
package participation

import (
	"sort"

	"github.com/govscope/govscope/analyzer/types"
)

// defaultBucketBounds are the holding-size decade cutoffs, in base units.
// Each bucket is [min, max); the final bucket is unbounded.
var defaultBucketBounds = []uint64{1, 10, 100, 1_000, 10_000}

// Params tunes the computation.
type Params struct {
	// WhaleTopK is how many top holders count as whales.
	WhaleTopK int
	// BucketBounds overrides the decade cutoffs when non-nil.
	BucketBounds []uint64
}

// Compute derives the participation metric set. Holders must carry valid
// ranks (ordered or not); proposals with zero votes contribute zero turnout.
func Compute(holders []types.HolderBalance, proposals []types.Proposal, votes []types.Vote, delegations []types.Delegation, params Params) *types.ParticipationMetrics {
	if params.WhaleTopK <= 0 {
		params.WhaleTopK = 10
	}
	bounds := params.BucketBounds
	if bounds == nil {
		bounds = defaultBucketBounds
	}

	var eligible uint64
	for _, h := range holders {
		eligible += h.Balance
	}

	votesByProposal := make(map[string][]types.Vote, len(proposals))
	for _, v := range votes {
		votesByProposal[v.ProposalID] = append(votesByProposal[v.ProposalID], v)
	}

	m := &types.ParticipationMetrics{
		Proposals: make([]types.ProposalTurnout, 0, len(proposals)),
	}

	voters := make(map[string]bool)
	var castTotal, eligibleTotal uint64
	for _, p := range proposals {
		pv := votesByProposal[p.ID]
		var cast uint64
		for _, v := range pv {
			cast += v.Power
			voters[v.Voter] = true
		}
		turnout := 0.0
		if eligible > 0 {
			turnout = float64(cast) / float64(eligible)
		}
		m.Proposals = append(m.Proposals, types.ProposalTurnout{
			ProposalID: p.ID,
			Turnout:    turnout,
			CastPower:  cast,
			Voters:     len(pv),
		})
		castTotal += cast
		eligibleTotal += eligible
	}
	sort.Slice(m.Proposals, func(i, j int) bool {
		return m.Proposals[i].ProposalID < m.Proposals[j].ProposalID
	})
	if eligibleTotal > 0 {
		m.OverallTurnout = float64(castTotal) / float64(eligibleTotal)
	}
	m.UniqueVoters = len(voters)

	m.Buckets = segment(holders, votes, bounds)
	m.Whales = whaleStats(holders, proposals, votesByProposal, params.WhaleTopK)
	m.Delegation = delegateInfluence(holders, delegations, votes)
	return m
}

// delegateInfluence aggregates delegated-in power per delegatee and the
// share of all cast power that delegatees exercised out of delegation. A
// delegatee's exercised power is bounded by both its delegated-in total and
// what it actually cast.
func delegateInfluence(holders []types.HolderBalance, delegations []types.Delegation, votes []types.Vote) types.DelegationStats {
	stats := types.DelegationStats{ActiveDelegations: len(delegations)}
	if len(delegations) == 0 {
		return stats
	}
	balance := make(map[string]uint64, len(holders))
	for _, h := range holders {
		balance[h.Address] = h.Balance
	}

	type inbound struct {
		power      uint64
		delegators int
	}
	byDelegatee := make(map[string]*inbound)
	for _, d := range delegations {
		in := d.Amount
		if d.Full {
			in = balance[d.Delegator]
		}
		agg, ok := byDelegatee[d.Delegatee]
		if !ok {
			agg = &inbound{}
			byDelegatee[d.Delegatee] = agg
		}
		agg.power += in
		agg.delegators++
	}

	castByVoter := make(map[string]uint64, len(votes))
	var castTotal uint64
	for _, v := range votes {
		castByVoter[v.Voter] += v.Power
		castTotal += v.Power
	}

	var delegatedCast uint64
	stats.Delegates = make([]types.DelegateInfluence, 0, len(byDelegatee))
	for addr, agg := range byDelegatee {
		cast := castByVoter[addr]
		exercised := agg.power
		if cast < exercised {
			exercised = cast
		}
		delegatedCast += exercised
		stats.Delegates = append(stats.Delegates, types.DelegateInfluence{
			Delegatee:      addr,
			Delegators:     agg.delegators,
			DelegatedPower: agg.power,
			CastPower:      cast,
		})
	}
	sort.Slice(stats.Delegates, func(i, j int) bool {
		if stats.Delegates[i].DelegatedPower != stats.Delegates[j].DelegatedPower {
			return stats.Delegates[i].DelegatedPower > stats.Delegates[j].DelegatedPower
		}
		return stats.Delegates[i].Delegatee < stats.Delegates[j].Delegatee
	})
	if castTotal > 0 {
		stats.DelegatedCastShare = float64(delegatedCast) / float64(castTotal)
	}
	return stats
}

// segment buckets holders by balance decade and reports per-bucket
// participation.
func segment(holders []types.HolderBalance, votes []types.Vote, bounds []uint64) []types.SizeBucket {
	buckets := make([]types.SizeBucket, len(bounds)+1)
	for i := range buckets {
		if i > 0 {
			buckets[i].Min = bounds[i-1]
		}
		if i < len(bounds) {
			buckets[i].Max = bounds[i]
		}
	}
	bucketOf := func(balance uint64) int {
		for i, bound := range bounds {
			if balance < bound {
				return i
			}
		}
		return len(bounds)
	}

	holderBucket := make(map[string]int, len(holders))
	for _, h := range holders {
		idx := bucketOf(h.Balance)
		holderBucket[h.Address] = idx
		buckets[idx].Holders++
	}

	var castTotal uint64
	castByBucket := make([]uint64, len(buckets))
	votersByBucket := make([]map[string]bool, len(buckets))
	for i := range votersByBucket {
		votersByBucket[i] = make(map[string]bool)
	}
	for _, v := range votes {
		idx, known := holderBucket[v.Voter]
		if !known {
			// Voter absent from the holder set (power entirely
			// delegated in); bucket by vote power.
			idx = bucketOf(v.Power)
		}
		castByBucket[idx] += v.Power
		votersByBucket[idx][v.Voter] = true
		castTotal += v.Power
	}

	for i := range buckets {
		buckets[i].Voters = len(votersByBucket[i])
		if buckets[i].Holders > 0 {
			buckets[i].ParticipationRate = float64(buckets[i].Voters) / float64(buckets[i].Holders)
		}
		if castTotal > 0 {
			buckets[i].CastPowerShare = float64(castByBucket[i]) / float64(castTotal)
		}
	}
	return buckets
}

// whaleStats reports top-K holder agreement with decided outcomes and their
// share of winning-side power.
func whaleStats(holders []types.HolderBalance, proposals []types.Proposal, votesByProposal map[string][]types.Vote, topK int) types.WhaleStats {
	ranked := make([]types.HolderBalance, len(holders))
	copy(ranked, holders)
	types.SortHolders(ranked)
	if topK > len(ranked) {
		topK = len(ranked)
	}
	whale := make(map[string]bool, topK)
	for _, h := range ranked[:topK] {
		whale[h.Address] = true
	}

	stats := types.WhaleStats{TopK: topK}
	var agreed, decidedVotes int
	var whaleWinning, totalWinning uint64
	for _, p := range proposals {
		winning, decided := WinningChoice(&p)
		if !decided {
			continue
		}
		for _, v := range votesByProposal[p.ID] {
			if v.Choice == winning {
				totalWinning += v.Power
			}
			if !whale[v.Voter] {
				continue
			}
			decidedVotes++
			if v.Choice == winning {
				agreed++
				whaleWinning += v.Power
			}
		}
	}
	if decidedVotes > 0 {
		stats.AgreementRate = float64(agreed) / float64(decidedVotes)
	}
	if totalWinning > 0 {
		stats.WinningSideShare = float64(whaleWinning) / float64(totalWinning)
	}
	return stats
}

// WinningChoice maps a decided proposal to the choice that carried it. The
// second return is false while the proposal is still undecided.
func WinningChoice(p *types.Proposal) (types.VoteChoice, bool) {
	switch p.Status {
	case types.StatusSucceeded, types.StatusExecuted:
		return types.ChoiceFor, true
	case types.StatusDefeated, types.StatusExpired:
		return types.ChoiceAgainst, true
	}
	return "", false
}
