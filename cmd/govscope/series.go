package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/govscope/govscope/analyzer/db"
	"github.com/govscope/govscope/analyzer/node"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/cmd/govscope/flags"
)

var seriesCommand = &cli.Command{
	Name:  "series",
	Usage: "project one metric over stored snapshots as a time series",
	Flags: []cli.Flag{
		flags.ProtocolFlag,
		flags.MetricFlag,
		flags.FromFlag,
		flags.ToFlag,
	},
	Action: runSeries,
}

func runSeries(ctx *cli.Context) error {
	core, err := node.New(buildConfig(ctx))
	if err != nil {
		return err
	}
	defer core.Close()

	sel, err := types.ParseMetricSelector(ctx.String(flags.MetricFlag.Name))
	if err != nil {
		return err
	}
	points, err := db.Series(
		ctx.Context,
		core.Store,
		ctx.String(flags.ProtocolFlag.Name),
		sel,
		flagTime(ctx, flags.FromFlag.Name),
		flagTime(ctx, flags.ToFlag.Name),
	)
	if err != nil {
		return err
	}

	if jsonOutput(ctx) {
		return printJSON(points)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "timestamp\t%s\tprovenance\n", sel)
	for _, p := range points {
		if p.Gap {
			fmt.Fprintf(w, "%s\t(gap)\t%s\n", p.Timestamp.Format(time.RFC3339), p.Provenance)
			continue
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", p.Timestamp.Format(time.RFC3339), p.Value, p.Provenance)
	}
	return nil
}
