package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/govscope/govscope/analyzer/comparison"
	"github.com/govscope/govscope/analyzer/node"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/cmd/govscope/flags"
)

var compareCommand = &cli.Command{
	Name:  "compare",
	Usage: "compare stored metrics across protocols",
	Flags: []cli.Flag{
		flags.ProtocolsFlag,
		flags.MetricsFlag,
		flags.AtFlag,
		flags.MaxSkewFlag,
	},
	Action: runCompare,
}

// defaultCompareMetrics is used when --metrics is not given.
var defaultCompareMetrics = []string{
	"concentration.gini",
	"concentration.nakamoto",
	"participation.turnout",
	"blocks.count",
}

func runCompare(ctx *cli.Context) error {
	core, err := node.New(buildConfig(ctx))
	if err != nil {
		return err
	}
	defer core.Close()

	protocolIDs := ctx.StringSlice(flags.ProtocolsFlag.Name)
	if len(protocolIDs) == 0 {
		for id := range core.Config.Protocols {
			protocolIDs = append(protocolIDs, id)
		}
		sort.Strings(protocolIDs)
	}

	names := ctx.StringSlice(flags.MetricsFlag.Name)
	if len(names) == 0 {
		names = defaultCompareMetrics
	}
	selectors := make([]types.MetricSelector, 0, len(names))
	for _, name := range names {
		sel, err := types.ParseMetricSelector(name)
		if err != nil {
			return err
		}
		selectors = append(selectors, sel)
	}

	at := flagTime(ctx, flags.AtFlag.Name)
	if at.IsZero() {
		at = time.Now()
	}
	table, err := core.Comparison.Compare(ctx.Context, protocolIDs, selectors, at,
		comparison.Params{MaxSkew: ctx.Duration(flags.MaxSkewFlag.Name)})
	if err != nil {
		return err
	}

	if jsonOutput(ctx) {
		return printJSON(table)
	}
	renderTable(table)
	return nil
}

func renderTable(table *comparison.Table) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "metric")
	for _, id := range table.Protocols {
		fmt.Fprintf(w, "\t%s", id)
	}
	fmt.Fprintln(w)
	for i, sel := range table.Selectors {
		fmt.Fprintf(w, "%s", sel)
		for _, cell := range table.Rows[i] {
			fmt.Fprintf(w, "\t%s", renderCell(cell))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\nRanking:\t\n")
	for i, entry := range table.Ranking {
		fmt.Fprintf(w, "  %d.\t%s (%.3f)\n", i+1, entry.ProtocolID, entry.Score)
	}
}

func renderCell(cell comparison.Cell) string {
	if cell.Missing {
		return "-"
	}
	out := fmt.Sprintf("%.4f [%s]", cell.Value, cell.Provenance)
	if cell.Delta != nil {
		out += fmt.Sprintf(" (%+.4f)", *cell.Delta)
	}
	return out
}
