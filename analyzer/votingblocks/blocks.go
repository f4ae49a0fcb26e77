package votingblocks

import (
	"sort"

	"github.com/govscope/govscope/analyzer/types"
)

// Analyze discovers voting blocks and anomalies for a snapshot's holders,
// proposals and votes. Output ordering is stable under node relabeling:
// blocks sort by descending aggregate power with smallest-minimum-address
// tie-break.
func Analyze(holders []types.HolderBalance, proposals []types.Proposal, votes []types.Vote, params Params) *types.BlockMetrics {
	params.applyDefaults()
	g := buildGraph(holders, votes, params)

	var memberSets [][]int
	for _, comp := range g.components() {
		if len(comp) < 2 {
			continue
		}
		if params.LargeComponentSplit > 0 && len(comp) > params.LargeComponentSplit {
			for _, sub := range modularitySplit(g, comp) {
				if len(sub) >= 2 {
					memberSets = append(memberSets, sub)
				}
			}
			continue
		}
		memberSets = append(memberSets, comp)
	}

	blocks := make([]types.VotingBlock, 0, len(memberSets))
	var castTotal uint64
	for _, v := range votes {
		castTotal += v.Power
	}
	castByVoter := make(map[string]uint64)
	for _, v := range votes {
		castByVoter[v.Voter] += v.Power
	}
	for _, members := range memberSets {
		blocks = append(blocks, buildBlock(g, members, castByVoter, castTotal))
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Power != blocks[j].Power {
			return blocks[i].Power > blocks[j].Power
		}
		return blocks[i].Members[0] < blocks[j].Members[0]
	})

	return &types.BlockMetrics{
		Blocks:    blocks,
		Anomalies: detectAnomalies(g, blocks, holders, proposals, votes, params),
	}
}

// buildBlock assembles a reported block from arena indices. Cohesion is the
// mean pairwise agreement across all member pairs with any overlap;
// influence is the block's share of all cast power.
func buildBlock(g *graph, members []int, castByVoter map[string]uint64, castTotal uint64) types.VotingBlock {
	block := types.VotingBlock{Members: make([]string, 0, len(members))}
	for _, idx := range members {
		block.Members = append(block.Members, g.voters[idx])
		block.Power += g.power[idx]
	}
	sort.Strings(block.Members)

	var agreementSum float64
	var pairs int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			agreement, overlap := Agreement(g.ballots[members[i]], g.ballots[members[j]])
			if overlap == 0 {
				continue
			}
			agreementSum += agreement
			pairs++
		}
	}
	if pairs > 0 {
		block.Cohesion = agreementSum / float64(pairs)
	}
	if castTotal > 0 {
		var cast uint64
		for _, member := range block.Members {
			cast += castByVoter[member]
		}
		block.Influence = float64(cast) / float64(castTotal)
	}
	return block
}

// modularitySplit subdivides an oversized component by greedy agglomerative
// modularity maximization over the component's weighted edges (overlap
// counts as weights). Each node starts in its own community; the merge with
// the largest positive modularity gain is applied until no gain remains.
func modularitySplit(g *graph, comp []int) [][]int {
	local := make(map[int]int, len(comp)) // arena index -> local index
	for i, idx := range comp {
		local[idx] = i
	}
	n := len(comp)
	weight := make([][]float64, n)
	for i := range weight {
		weight[i] = make([]float64, n)
	}
	degree := make([]float64, n)
	var total float64
	for _, e := range g.edges {
		u, uok := local[e.u]
		v, vok := local[e.v]
		if !uok || !vok {
			continue
		}
		w := float64(e.overlap)
		weight[u][v] += w
		weight[v][u] += w
		degree[u] += w
		degree[v] += w
		total += w
	}
	if total == 0 {
		return [][]int{comp}
	}

	community := make([]int, n)
	for i := range community {
		community[i] = i
	}
	// Community aggregates: internal edge weight between communities and
	// total degree per community.
	commDegree := append([]float64(nil), degree...)
	interWeight := make(map[[2]int]float64)
	for u := 0; u < n; u++ {
		for v := u + 1; v < n; v++ {
			if weight[u][v] > 0 {
				interWeight[[2]int{u, v}] = weight[u][v]
			}
		}
	}

	for {
		bestGain := 0.0
		bestPair := [2]int{-1, -1}
		for pair, w := range interWeight {
			a, b := pair[0], pair[1]
			gain := w/total - commDegree[a]*commDegree[b]/(2*total*total)
			// Deterministic tie-break keeps the split stable under
			// map iteration order.
			if gain > bestGain || (gain == bestGain && bestPair[0] >= 0 && lessPair(pair, bestPair)) {
				bestGain = gain
				bestPair = pair
			}
		}
		if bestGain <= 0 {
			break
		}
		a, b := bestPair[0], bestPair[1]
		// Merge b into a.
		for i := range community {
			if community[i] == b {
				community[i] = a
			}
		}
		commDegree[a] += commDegree[b]
		commDegree[b] = 0
		delete(interWeight, bestPair)
		for pair, w := range interWeight {
			if pair[0] != b && pair[1] != b {
				continue
			}
			other := pair[0]
			if other == b {
				other = pair[1]
			}
			delete(interWeight, pair)
			if other == a {
				continue
			}
			key := [2]int{a, other}
			if other < a {
				key = [2]int{other, a}
			}
			interWeight[key] += w
		}
	}

	grouped := make(map[int][]int)
	for i, c := range community {
		grouped[c] = append(grouped[c], comp[i])
	}
	keys := make([]int, 0, len(grouped))
	for c := range grouped {
		keys = append(keys, c)
	}
	sort.Ints(keys)
	out := make([][]int, 0, len(keys))
	for _, c := range keys {
		members := grouped[c]
		sort.Ints(members)
		out = append(out, members)
	}
	return out
}

func lessPair(a, b [2]int) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}
