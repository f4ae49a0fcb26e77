// Package flags defines the command line flags of the govscope binary.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// ConfigFileFlag loads flag values from a YAML file.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "Path to a YAML file with flag values",
	}
	// DataDirFlag is the snapshot store root.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for the snapshot store",
		Value: "data/snapshots",
	}
	// StoreBackendFlag selects the snapshot store backend.
	StoreBackendFlag = &cli.StringFlag{
		Name:  "store-backend",
		Usage: "Snapshot store backend, disk or mem",
		Value: "disk",
	}
	// VerbosityFlag sets the global log level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal)",
		Value: "info",
	}
	// LogFormatFlag selects the stdout log format.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format, either text, fluentd or json",
		Value: "text",
	}
	// LogFileFlag mirrors logs to a file.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Also write logs to the given file",
	}
	// OutputFlag selects the result rendering.
	OutputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Result output, either table or json",
		Value:   "table",
	}

	// EtherscanKeyFlag is the Etherscan API credential.
	EtherscanKeyFlag = &cli.StringFlag{
		Name:    "etherscan-api-key",
		Usage:   "Etherscan API key (empty uses the free tier)",
		EnvVars: []string{"GOVSCOPE_ETHERSCAN_API_KEY"},
	}
	// GraphKeyFlag is The Graph API credential.
	GraphKeyFlag = &cli.StringFlag{
		Name:    "graph-api-key",
		Usage:   "The Graph API key (empty uses the free tier)",
		EnvVars: []string{"GOVSCOPE_GRAPH_API_KEY"},
	}
	// AlchemyKeyFlag is the Alchemy RPC credential.
	AlchemyKeyFlag = &cli.StringFlag{
		Name:    "alchemy-api-key",
		Usage:   "Alchemy API key for the JSON-RPC source",
		EnvVars: []string{"GOVSCOPE_ALCHEMY_API_KEY"},
	}
	// InfuraKeyFlag is the Infura RPC credential.
	InfuraKeyFlag = &cli.StringFlag{
		Name:    "infura-api-key",
		Usage:   "Infura project id for the JSON-RPC source",
		EnvVars: []string{"GOVSCOPE_INFURA_API_KEY"},
	}
	// EthplorerKeyFlag is the Ethplorer credential.
	EthplorerKeyFlag = &cli.StringFlag{
		Name:    "ethplorer-api-key",
		Usage:   "Ethplorer API key (empty uses freekey)",
		EnvVars: []string{"GOVSCOPE_ETHPLORER_API_KEY"},
	}
	// SimulatorSeedFlag fixes the synthetic data seed.
	SimulatorSeedFlag = &cli.Int64Flag{
		Name:  "simulator-seed",
		Usage: "Seed for deterministic synthetic data",
		Value: 42,
	}

	// ProtocolFlag names one protocol.
	ProtocolFlag = &cli.StringFlag{
		Name:     "protocol",
		Usage:    "Protocol id (compound, uniswap, aave)",
		Required: true,
	}
	// ProtocolsFlag names several protocols.
	ProtocolsFlag = &cli.StringSliceFlag{
		Name:  "protocols",
		Usage: "Protocol ids to compare",
	}
	// AtFlag is the snapshot reference time.
	AtFlag = &cli.TimestampFlag{
		Name:   "at",
		Usage:  "Reference time (RFC 3339), defaults to now",
		Layout: "2006-01-02T15:04:05Z07:00",
	}
	// LookbackFlag is the governance activity window.
	LookbackFlag = &cli.DurationFlag{
		Name:  "lookback",
		Usage: "Governance activity window behind the reference time",
	}
	// PersistFlag stores the built snapshot.
	PersistFlag = &cli.BoolFlag{
		Name:  "persist",
		Usage: "Store the snapshot after building it",
	}
	// DotFileFlag exports the co-voting graph.
	DotFileFlag = &cli.StringFlag{
		Name:  "dot-file",
		Usage: "Write the co-voting graph in DOT format to this file",
	}
	// MetricsFlag selects metrics for comparison.
	MetricsFlag = &cli.StringSliceFlag{
		Name:  "metrics",
		Usage: "Metric selectors, e.g. concentration.gini,participation.turnout",
	}
	// MetricFlag selects one metric for a series.
	MetricFlag = &cli.StringFlag{
		Name:     "metric",
		Usage:    "Metric selector, e.g. concentration.gini",
		Required: true,
	}
	// FromFlag is the series range start.
	FromFlag = &cli.TimestampFlag{
		Name:   "from",
		Usage:  "Range start (RFC 3339)",
		Layout: "2006-01-02T15:04:05Z07:00",
	}
	// ToFlag is the series range end.
	ToFlag = &cli.TimestampFlag{
		Name:   "to",
		Usage:  "Range end (RFC 3339)",
		Layout: "2006-01-02T15:04:05Z07:00",
	}
	// MaxSkewFlag bounds comparison alignment.
	MaxSkewFlag = &cli.DurationFlag{
		Name:  "max-skew",
		Usage: "Maximum distance between reference time and aligned snapshots",
	}
	// ProfileFlag selects the simulator distribution shape.
	ProfileFlag = &cli.StringFlag{
		Name:  "profile",
		Usage: "Simulator profile: power-law, protocol-dominated or community",
		Value: "power-law",
	}
	// HoldersFlag sets the simulated holder count.
	HoldersFlag = &cli.IntFlag{
		Name:  "holders",
		Usage: "Number of simulated holders",
		Value: 250,
	}
)
