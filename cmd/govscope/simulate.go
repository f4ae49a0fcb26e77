package main

import (
	"github.com/urfave/cli/v2"

	"github.com/govscope/govscope/analyzer/node"
	"github.com/govscope/govscope/analyzer/simulator"
	"github.com/govscope/govscope/cmd/govscope/flags"
)

var simulateCommand = &cli.Command{
	Name:  "simulate",
	Usage: "build a fully synthetic snapshot under a distribution profile",
	Flags: []cli.Flag{
		flags.ProtocolFlag,
		flags.ProfileFlag,
		flags.HoldersFlag,
		flags.AtFlag,
		flags.PersistFlag,
	},
	Action: runSimulate,
}

func runSimulate(ctx *cli.Context) error {
	core, err := node.New(buildConfig(ctx))
	if err != nil {
		return err
	}
	defer core.Close()

	profile, err := simulator.ParseProfile(ctx.String(flags.ProfileFlag.Name))
	if err != nil {
		return err
	}
	snapshot, err := core.Engine.SimulateSnapshot(
		ctx.Context,
		ctx.String(flags.ProtocolFlag.Name),
		profile,
		ctx.Int(flags.HoldersFlag.Name),
		flagTime(ctx, flags.AtFlag.Name),
		ctx.Bool(flags.PersistFlag.Name),
	)
	if err != nil {
		return err
	}

	if jsonOutput(ctx) {
		return printJSON(snapshot)
	}
	renderSnapshot(snapshot)
	return nil
}
