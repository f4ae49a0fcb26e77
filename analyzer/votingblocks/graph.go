// Package votingblocks discovers voting blocks from co-voting behavior and
// flags anomalous voting patterns. Voters are held in an index arena; the
// co-voting graph stores integer endpoints only, never shared handles.
package votingblocks

import (
	"sort"

	"github.com/govscope/govscope/analyzer/types"
)

// Params tunes block discovery.
type Params struct {
	// MinOverlap is the minimum number of co-voted proposals for a pair
	// to be compared, and the minimum distinct proposals for a voter to
	// enter the graph.
	MinOverlap int
	// SimilarityThreshold is the minimum agreement ratio for an edge.
	SimilarityThreshold float64
	// LargeComponentSplit is the component size above which a
	// modularity-based split pass runs. Zero disables splitting.
	LargeComponentSplit int
	// WhaleTopK bounds the whale-vs-outcome scan.
	WhaleTopK int
	// SpikeWindow is the trailing proposal count for participation spike
	// detection.
	SpikeWindow int
}

func (p *Params) applyDefaults() {
	if p.MinOverlap <= 0 {
		p.MinOverlap = 3
	}
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = 0.8
	}
	if p.WhaleTopK <= 0 {
		p.WhaleTopK = 10
	}
	if p.SpikeWindow <= 0 {
		p.SpikeWindow = 10
	}
}

// edge is an undirected similarity edge between two voter indices.
type edge struct {
	u, v      int
	agreement float64
	overlap   int
}

// graph is the filtered co-voting graph over the voter arena.
type graph struct {
	voters  []string                    // arena: index -> address
	ballots []map[string]types.VoteChoice // index -> proposal id -> choice
	power   []uint64                    // index -> voting power at reference
	edges   []edge
	adj     [][]int // index -> incident edge indices
}

// buildGraph constructs the voter arena and the threshold-filtered
// similarity graph. Only voters with at least MinOverlap distinct proposals
// become nodes.
func buildGraph(holders []types.HolderBalance, votes []types.Vote, params Params) *graph {
	ballotsByVoter := make(map[string]map[string]types.VoteChoice)
	powerByVoter := make(map[string]uint64)
	for _, v := range votes {
		b, ok := ballotsByVoter[v.Voter]
		if !ok {
			b = make(map[string]types.VoteChoice)
			ballotsByVoter[v.Voter] = b
		}
		b[v.ProposalID] = v.Choice
		if v.Power > powerByVoter[v.Voter] {
			powerByVoter[v.Voter] = v.Power
		}
	}
	balance := make(map[string]uint64, len(holders))
	for _, h := range holders {
		balance[h.Address] = h.Balance
	}

	g := &graph{}
	for voter, ballots := range ballotsByVoter {
		if len(ballots) < params.MinOverlap {
			continue
		}
		g.voters = append(g.voters, voter)
	}
	// Deterministic arena order regardless of map iteration.
	sort.Strings(g.voters)
	index := make(map[string]int, len(g.voters))
	for i, voter := range g.voters {
		index[voter] = i
		g.ballots = append(g.ballots, ballotsByVoter[voter])
		p := balance[voter]
		if p == 0 {
			p = powerByVoter[voter]
		}
		g.power = append(g.power, p)
	}

	g.adj = make([][]int, len(g.voters))
	for u := 0; u < len(g.voters); u++ {
		for v := u + 1; v < len(g.voters); v++ {
			agreement, overlap := Agreement(g.ballots[u], g.ballots[v])
			if overlap < params.MinOverlap {
				continue
			}
			if agreement < params.SimilarityThreshold {
				continue
			}
			g.edges = append(g.edges, edge{u: u, v: v, agreement: agreement, overlap: overlap})
			g.adj[u] = append(g.adj[u], len(g.edges)-1)
			g.adj[v] = append(g.adj[v], len(g.edges)-1)
		}
	}
	return g
}

// Agreement computes the agreement ratio between two ballot sets: among
// proposals both voted on, the fraction with the same choice. The second
// return is the overlap count.
func Agreement(a, b map[string]types.VoteChoice) (float64, int) {
	if len(b) < len(a) {
		a, b = b, a
	}
	var overlap, same int
	for proposal, choice := range a {
		other, ok := b[proposal]
		if !ok {
			continue
		}
		overlap++
		if choice == other {
			same++
		}
	}
	if overlap == 0 {
		return 0, 0
	}
	return float64(same) / float64(overlap), overlap
}

// components returns the connected components of the filtered graph as
// sorted index slices.
func (g *graph) components() [][]int {
	seen := make([]bool, len(g.voters))
	var out [][]int
	for start := range g.voters {
		if seen[start] {
			continue
		}
		var comp []int
		queue := []int{start}
		seen[start] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			comp = append(comp, u)
			for _, ei := range g.adj[u] {
				e := g.edges[ei]
				next := e.u
				if next == u {
					next = e.v
				}
				if !seen[next] {
					seen[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Ints(comp)
		out = append(out, comp)
	}
	return out
}
