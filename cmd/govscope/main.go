// Package main defines the govscope command line tool: governance analytics
// for token protocols, from holder concentration to voting-block discovery,
// backed by a historical snapshot store.
package main

import (
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/cmd/govscope/flags"
	"github.com/govscope/govscope/config"
	"github.com/govscope/govscope/shared/logutil"
	"github.com/govscope/govscope/shared/version"
)

var log = logrus.WithField("prefix", "main")

// Process exit codes. Zero is success; every failure that is not a
// validation error, a degraded result or a cancellation exits 1.
const (
	exitFailure    = 1
	exitValidation = 2
	exitDegraded   = 3
	exitCancelled  = 4
)

// errDegraded is returned by commands after they have already emitted
// output assembled from simulated data, so callers can distinguish a
// degraded success from a clean one.
var errDegraded = errors.New("degraded: all live sources exhausted, output is simulated")

var appFlags = []cli.Flag{
	flags.ConfigFileFlag,
	flags.DataDirFlag,
	flags.StoreBackendFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
	flags.LogFileFlag,
	flags.OutputFlag,
	flags.EtherscanKeyFlag,
	flags.GraphKeyFlag,
	flags.AlchemyKeyFlag,
	flags.InfuraKeyFlag,
	flags.EthplorerKeyFlag,
	flags.SimulatorSeedFlag,
}

func main() {
	app := cli.NewApp()
	app.Name = "govscope"
	app.Usage = "governance analytics for token protocols"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Commands = []*cli.Command{
		analyzeCommand,
		compareCommand,
		simulateCommand,
		seriesCommand,
	}

	app.Before = func(ctx *cli.Context) error {
		runtime.GOMAXPROCS(runtime.NumCPU())
		if ctx.IsSet(flags.ConfigFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(appFlags,
				altsrc.NewYamlSourceFromFlagFunc(flags.ConfigFileFlag.Name))(ctx); err != nil {
				return err
			}
		}
		return setupLogging(ctx)
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(exitCode(err))
	}
}

func setupLogging(ctx *cli.Context) error {
	level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch format := ctx.String(flags.LogFormatFlag.Name); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
	case "fluentd":
		logrus.SetFormatter(joonix.NewFormatter())
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}

	if logFile := ctx.String(flags.LogFileFlag.Name); logFile != "" {
		if err := logutil.ConfigurePersistentLogging(logFile, ctx.String(flags.LogFormatFlag.Name)); err != nil {
			log.WithError(err).Error("Failed to configure persistent logging")
			return err
		}
	}
	return nil
}

// buildConfig folds flag values over the default configuration record.
func buildConfig(ctx *cli.Context) *config.Config {
	cfg := config.Default()
	cfg.APIKeys = config.APIKeys{
		Etherscan: ctx.String(flags.EtherscanKeyFlag.Name),
		Graph:     ctx.String(flags.GraphKeyFlag.Name),
		Alchemy:   ctx.String(flags.AlchemyKeyFlag.Name),
		Infura:    ctx.String(flags.InfuraKeyFlag.Name),
		Ethplorer: ctx.String(flags.EthplorerKeyFlag.Name),
	}
	cfg.SnapshotStore.Backend = ctx.String(flags.StoreBackendFlag.Name)
	cfg.SnapshotStore.Path = ctx.String(flags.DataDirFlag.Name)
	cfg.Simulator.Seed = ctx.Int64(flags.SimulatorSeedFlag.Name)
	return cfg
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	if errors.Is(err, errDegraded) {
		return exitDegraded
	}
	if errors.Is(err, iface.ErrNotFound) {
		return exitFailure
	}
	switch types.KindOf(err) {
	case types.KindValidation:
		return exitValidation
	case types.KindCancelled:
		return exitCancelled
	}
	return exitFailure
}
