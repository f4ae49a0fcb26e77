package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/cmd/govscope/flags"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonOutput reports whether the user asked for machine-readable output.
func jsonOutput(ctx *cli.Context) bool {
	return ctx.String(flags.OutputFlag.Name) == "json"
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.NewError(types.KindInternal, "", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func power(v uint64) string {
	return humanize.Comma(int64(v))
}

// renderSnapshot writes the human-readable metric summary.
func renderSnapshot(s *types.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Protocol:\t%s (%s)\n", s.Protocol.Name, s.Protocol.Symbol)
	fmt.Fprintf(w, "Snapshot:\t%s\n", s.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Provenance:\t%s\n", s.Provenance)
	if s.Scale > 1 {
		fmt.Fprintf(w, "Amount scale:\t1e%d base units per unit\n", digits(s.Scale))
	}
	fmt.Fprintf(w, "Holders:\t%d\n", len(s.Holders))
	fmt.Fprintf(w, "Proposals:\t%d\n", len(s.Proposals))
	fmt.Fprintf(w, "Votes:\t%d\n", len(s.Votes))
	fmt.Fprintf(w, "Delegations:\t%d\n", len(s.Delegations))

	if s.Metrics == nil {
		return
	}
	if c := s.Metrics.Concentration; c != nil && !c.Degenerate {
		fmt.Fprintf(w, "\nConcentration\t\n")
		fmt.Fprintf(w, "  Gini:\t%.4f\n", c.Gini)
		fmt.Fprintf(w, "  HHI:\t%.1f\n", c.HHI)
		fmt.Fprintf(w, "  Nakamoto:\t%d\n", c.Nakamoto)
		if c.Palma != nil {
			fmt.Fprintf(w, "  Palma:\t%.4f\n", *c.Palma)
		} else {
			fmt.Fprintf(w, "  Palma:\tn/a\n")
		}
		fmt.Fprintf(w, "  Hoover:\t%.4f\n", c.Hoover)
		fmt.Fprintf(w, "  Theil:\t%.4f\n", c.Theil)
		for _, n := range []int{5, 10, 50} {
			if share, ok := c.TopShares[n]; ok {
				fmt.Fprintf(w, "  Top %d share:\t%.2f%%\n", n, share*100)
			}
		}
		fmt.Fprintf(w, "  Total supply held:\t%s\n", power(c.Total))
	}
	if p := s.Metrics.Participation; p != nil {
		fmt.Fprintf(w, "\nParticipation\t\n")
		fmt.Fprintf(w, "  Overall turnout:\t%.2f%%\n", p.OverallTurnout*100)
		fmt.Fprintf(w, "  Unique voters:\t%d\n", p.UniqueVoters)
		fmt.Fprintf(w, "  Whale agreement:\t%.2f%%\n", p.Whales.AgreementRate*100)
		fmt.Fprintf(w, "  Whale winning share:\t%.2f%%\n", p.Whales.WinningSideShare*100)
	}
	if b := s.Metrics.VotingBlocks; b != nil {
		fmt.Fprintf(w, "\nVoting blocks\t\n")
		fmt.Fprintf(w, "  Blocks:\t%d\n", len(b.Blocks))
		for i, block := range b.Blocks {
			if i >= 5 {
				fmt.Fprintf(w, "  ...\t%d more\n", len(b.Blocks)-i)
				break
			}
			fmt.Fprintf(w, "  Block %d:\t%d members, power %s, cohesion %.2f\n",
				i+1, len(block.Members), power(block.Power), block.Cohesion)
		}
		fmt.Fprintf(w, "  Anomalies:\t%d\n", len(b.Anomalies))
		for i, a := range b.Anomalies {
			if i >= 5 {
				fmt.Fprintf(w, "  ...\t%d more\n", len(b.Anomalies)-i)
				break
			}
			fmt.Fprintf(w, "  %s:\tseverity %.2f %s\n", a.Category, a.Severity, anomalySubject(a))
		}
	}
	if len(s.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\t%d\n", len(s.Warnings))
		for _, warning := range s.Warnings {
			fmt.Fprintf(w, "  -\t%s\n", warning)
		}
	}
}

func anomalySubject(a types.Anomaly) string {
	switch {
	case a.ProposalID != "":
		return "proposal " + a.ProposalID
	case a.Address != "":
		return "address " + a.Address
	default:
		return fmt.Sprintf("block %d", a.BlockIndex+1)
	}
}

func digits(scale uint64) int {
	d := 0
	for scale > 1 {
		scale /= 10
		d++
	}
	return d
}
