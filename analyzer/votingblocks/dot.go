package votingblocks

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/govscope/govscope/analyzer/types"
)

// ExportDOT renders the filtered co-voting graph of a snapshot as a DOT
// document for rendering collaborators. Voters in the same block share a
// cluster; edge labels carry the agreement ratio.
func ExportDOT(holders []types.HolderBalance, votes []types.Vote, params Params) string {
	params.applyDefaults()
	g := buildGraph(holders, votes, params)

	doc := dot.NewGraph(dot.Undirected)
	doc.Attr("label", "co-voting graph")

	clusters := make(map[int]*dot.Graph)
	nodeOwner := make(map[int]int) // arena index -> block index
	var blockIdx int
	for _, comp := range g.components() {
		if len(comp) < 2 {
			continue
		}
		sub := doc.Subgraph(fmt.Sprintf("block %d", blockIdx), dot.ClusterOption{})
		clusters[blockIdx] = sub
		for _, idx := range comp {
			nodeOwner[idx] = blockIdx
		}
		blockIdx++
	}

	nodes := make(map[int]dot.Node, len(g.voters))
	for idx, voter := range g.voters {
		label := voter
		if len(label) > 10 {
			label = label[:10]
		}
		if owner, ok := nodeOwner[idx]; ok {
			nodes[idx] = clusters[owner].Node(voter).Label(label)
		} else {
			nodes[idx] = doc.Node(voter).Label(label)
		}
	}
	for _, e := range g.edges {
		doc.Edge(nodes[e.u], nodes[e.v]).Label(fmt.Sprintf("%.2f", e.agreement))
	}
	return doc.String()
}
