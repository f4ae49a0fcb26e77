package votingblocks

import (
	"math"
	"sort"

	"github.com/govscope/govscope/analyzer/participation"
	"github.com/govscope/govscope/analyzer/types"
)

const (
	coordinatedIdenticalRate = 0.90
	whaleLosingRate          = 0.80
	whaleMinDecidedVotes     = 3
	spikeSigma               = 3.0
)

// detectAnomalies runs the four anomaly scans. Items carry only category,
// reference and severity; interpretation belongs to rendering collaborators.
func detectAnomalies(g *graph, blocks []types.VotingBlock, holders []types.HolderBalance, proposals []types.Proposal, votes []types.Vote, params Params) []types.Anomaly {
	anomalies := make([]types.Anomaly, 0)
	anomalies = append(anomalies, coordinatedVoting(g, blocks)...)
	anomalies = append(anomalies, whaleVsOutcome(holders, proposals, votes, params.WhaleTopK)...)
	anomalies = append(anomalies, powerOutcomeDivergence(proposals)...)
	anomalies = append(anomalies, participationSpikes(holders, proposals, votes, params.SpikeWindow)...)
	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Severity > anomalies[j].Severity
	})
	return anomalies
}

// coordinatedVoting flags blocks of three or more voters whose participating
// members voted identically on at least 90% of their overlapping proposals.
func coordinatedVoting(g *graph, blocks []types.VotingBlock) []types.Anomaly {
	index := make(map[string]int, len(g.voters))
	for i, voter := range g.voters {
		index[voter] = i
	}
	var out []types.Anomaly
	for blockIdx, block := range blocks {
		if len(block.Members) < 3 {
			continue
		}
		// Proposals voted by at least two block members; identical when
		// every participating member picked the same choice.
		choices := make(map[string]map[types.VoteChoice]bool)
		counts := make(map[string]int)
		for _, member := range block.Members {
			for proposal, choice := range g.ballots[index[member]] {
				set, ok := choices[proposal]
				if !ok {
					set = make(map[types.VoteChoice]bool)
					choices[proposal] = set
				}
				set[choice] = true
				counts[proposal]++
			}
		}
		var overlapping, identical int
		for proposal, n := range counts {
			if n < 2 {
				continue
			}
			overlapping++
			if len(choices[proposal]) == 1 {
				identical++
			}
		}
		if overlapping == 0 {
			continue
		}
		rate := float64(identical) / float64(overlapping)
		if rate < coordinatedIdenticalRate {
			continue
		}
		out = append(out, types.Anomaly{
			Category:   types.AnomalyCoordinatedVoting,
			BlockIndex: blockIdx,
			Severity:   rate * float64(len(block.Members)),
		})
	}
	return out
}

// whaleVsOutcome flags top-K holders consistently on the losing side of
// decided proposals.
func whaleVsOutcome(holders []types.HolderBalance, proposals []types.Proposal, votes []types.Vote, topK int) []types.Anomaly {
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

	winning := make(map[string]types.VoteChoice, len(proposals))
	for i := range proposals {
		if choice, decided := participation.WinningChoice(&proposals[i]); decided {
			winning[proposals[i].ID] = choice
		}
	}

	decided := make(map[string]int)
	losing := make(map[string]int)
	for _, v := range votes {
		if !whale[v.Voter] {
			continue
		}
		choice, ok := winning[v.ProposalID]
		if !ok {
			continue
		}
		decided[v.Voter]++
		if v.Choice != choice {
			losing[v.Voter]++
		}
	}

	var out []types.Anomaly
	addresses := make([]string, 0, len(decided))
	for addr := range decided {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	for _, addr := range addresses {
		if decided[addr] < whaleMinDecidedVotes {
			continue
		}
		rate := float64(losing[addr]) / float64(decided[addr])
		if rate < whaleLosingRate {
			continue
		}
		out = append(out, types.Anomaly{
			Category: types.AnomalyWhaleVsOutcome,
			Address:  addr,
			Severity: rate,
		})
	}
	return out
}

// powerOutcomeDivergence flags proposals whose recorded outcome contradicts
// the majority of cast power (quorum-driven flips).
func powerOutcomeDivergence(proposals []types.Proposal) []types.Anomaly {
	var out []types.Anomaly
	for i := range proposals {
		p := &proposals[i]
		cast := p.Tallies.Cast()
		if cast == 0 {
			continue
		}
		choice, decided := participation.WinningChoice(p)
		if !decided {
			continue
		}
		powerFavors := p.Tallies.For > p.Tallies.Against
		outcomeFor := choice == types.ChoiceFor
		if powerFavors == outcomeFor {
			continue
		}
		margin := float64(p.Tallies.For) - float64(p.Tallies.Against)
		out = append(out, types.Anomaly{
			Category:   types.AnomalyPowerOutcomeDiverge,
			ProposalID: p.ID,
			Severity:   math.Abs(margin) / float64(cast),
		})
	}
	return out
}

// participationSpikes flags proposals whose turnout exceeds mean + 3 sigma
// of the trailing window, in voting-start order.
func participationSpikes(holders []types.HolderBalance, proposals []types.Proposal, votes []types.Vote, window int) []types.Anomaly {
	var eligible uint64
	for _, h := range holders {
		eligible += h.Balance
	}
	if eligible == 0 || len(proposals) == 0 {
		return nil
	}
	cast := make(map[string]uint64)
	for _, v := range votes {
		cast[v.ProposalID] += v.Power
	}
	ordered := make([]types.Proposal, len(proposals))
	copy(ordered, proposals)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].VotingStart.Equal(ordered[j].VotingStart) {
			return ordered[i].VotingStart.Before(ordered[j].VotingStart)
		}
		return ordered[i].ID < ordered[j].ID
	})

	turnouts := make([]float64, len(ordered))
	for i := range ordered {
		turnouts[i] = float64(cast[ordered[i].ID]) / float64(eligible)
	}

	var out []types.Anomaly
	for i := range ordered {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		trailing := turnouts[lo:i]
		if len(trailing) < 2 {
			continue
		}
		mean, sigma := meanStddev(trailing)
		if sigma == 0 {
			continue
		}
		if turnouts[i] <= mean+spikeSigma*sigma {
			continue
		}
		out = append(out, types.Anomaly{
			Category:   types.AnomalyParticipationSpike,
			ProposalID: ordered[i].ID,
			Severity:   (turnouts[i] - mean) / sigma,
		})
	}
	return out
}

func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
