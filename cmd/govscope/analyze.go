package main

import (
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/govscope/govscope/analyzer/engine"
	"github.com/govscope/govscope/analyzer/node"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/analyzer/votingblocks"
	"github.com/govscope/govscope/cmd/govscope/flags"
	"github.com/govscope/govscope/config"
)

var analyzeCommand = &cli.Command{
	Name:  "analyze",
	Usage: "build a governance snapshot and report its metrics",
	Flags: []cli.Flag{
		flags.ProtocolFlag,
		flags.AtFlag,
		flags.LookbackFlag,
		flags.PersistFlag,
		flags.DotFileFlag,
	},
	Action: runAnalyze,
}

func runAnalyze(ctx *cli.Context) error {
	core, err := node.New(buildConfig(ctx))
	if err != nil {
		return err
	}
	defer core.Close()

	opts := engine.BuildOptions{
		At:       flagTime(ctx, flags.AtFlag.Name),
		Lookback: ctx.Duration(flags.LookbackFlag.Name),
		Persist:  ctx.Bool(flags.PersistFlag.Name),
	}
	snapshot, err := core.Engine.BuildSnapshot(ctx.Context, ctx.String(flags.ProtocolFlag.Name), opts)
	if err != nil {
		return err
	}

	if dotFile := ctx.String(flags.DotFileFlag.Name); dotFile != "" {
		graph := votingblocks.ExportDOT(snapshot.Holders, snapshot.Votes, blockParams(core.Config))
		if err := os.WriteFile(dotFile, []byte(graph), 0o600); err != nil {
			return err
		}
		log.WithField("file", dotFile).Info("Wrote co-voting graph")
	}

	if jsonOutput(ctx) {
		if err := printJSON(snapshot); err != nil {
			return err
		}
	} else {
		renderSnapshot(snapshot)
	}
	// The snapshot was emitted either way; a simulated one still signals
	// the degrade through the exit code.
	if snapshot.Provenance == types.ProvenanceSimulated {
		return errDegraded
	}
	return nil
}

func blockParams(cfg *config.Config) votingblocks.Params {
	return votingblocks.Params{
		MinOverlap:          cfg.VotingBlocks.MinOverlap,
		SimilarityThreshold: cfg.VotingBlocks.SimilarityThreshold,
		LargeComponentSplit: cfg.VotingBlocks.LargeComponentSplit,
		WhaleTopK:           cfg.WhaleTopK,
	}
}

// flagTime reads a timestamp flag, zero when unset.
func flagTime(ctx *cli.Context, name string) time.Time {
	if t := ctx.Timestamp(name); t != nil {
		return *t
	}
	return time.Time{}
}
