// Package config defines the explicit configuration record for the
// governance analytics core. There are no process-wide config singletons:
// the record is built once (defaults + CLI flags) and handed to the Core.
package config

import (
	"time"

	"github.com/pkg/errors"
)

// Data kinds used as fallback-chain keys.
const (
	KindHolders     = "holders"
	KindProposals   = "proposals"
	KindVotes       = "votes"
	KindDelegations = "delegations"
)

// APIKeys holds per-source credentials. Absence of a key makes the adapter
// fail with an auth-missing error and the fallback chain advances.
type APIKeys struct {
	Etherscan string `yaml:"etherscan"`
	Graph     string `yaml:"graph"`
	Alchemy   string `yaml:"alchemy"`
	Infura    string `yaml:"infura"`
	Ethplorer string `yaml:"ethplorer"`
}

// Retry controls per-source retry behavior inside the fetch coordinator.
type Retry struct {
	Base        time.Duration `yaml:"base"`
	Ceiling     time.Duration `yaml:"ceiling"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Concurrency bounds in-flight external calls.
type Concurrency struct {
	PerSource int `yaml:"per_source"`
	Global    int `yaml:"global"`
}

// Cache controls the response cache.
type Cache struct {
	HoldersTTL   time.Duration `yaml:"holders_ttl"`
	ProposalsTTL time.Duration `yaml:"proposals_ttl"`
	VotesTTL     time.Duration `yaml:"votes_ttl"`
	MaxEntries   int           `yaml:"max_entries"`
}

// SnapshotStore selects and parameterizes the store backend.
type SnapshotStore struct {
	Backend string `yaml:"backend"` // "mem" or "disk"
	Path    string `yaml:"path"`
}

// VotingBlocks parameterizes co-voting analysis.
type VotingBlocks struct {
	MinOverlap          int     `yaml:"min_overlap"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	LargeComponentSplit int     `yaml:"large_component_split"`
}

// Simulator parameterizes the deterministic synthetic generator.
type Simulator struct {
	Seed          int64   `yaml:"seed"`
	Alpha         float64 `yaml:"alpha"`
	DominantShare float64 `yaml:"dominant_share"`
}

// RateLimit is the per-source token bucket.
type RateLimit struct {
	PerSecond int64 `yaml:"per_second"`
	Burst     int64 `yaml:"burst"`
}

// Protocol is a registry entry for a supported protocol.
type Protocol struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	Contract string `yaml:"contract"`
}

// Config is the complete configuration record.
type Config struct {
	APIKeys       APIKeys             `yaml:"api_keys"`
	FallbackChain map[string][]string `yaml:"fallback_chain"`
	Retry         Retry               `yaml:"retry"`
	Concurrency   Concurrency         `yaml:"concurrency"`
	Cache         Cache               `yaml:"cache"`
	SnapshotStore SnapshotStore       `yaml:"snapshot_store"`
	VotingBlocks  VotingBlocks        `yaml:"voting_blocks"`
	Simulator     Simulator           `yaml:"simulator"`
	RateLimit     RateLimit           `yaml:"rate_limit"`
	BuildDeadline time.Duration       `yaml:"build_deadline"`
	MinSurvivors  float64             `yaml:"min_survivors"`
	WhaleTopK     int                 `yaml:"whale_top_k"`
	Protocols     map[string]Protocol `yaml:"protocols"`
}

// Source ids known to the provider registry.
const (
	SourceEtherscan = "etherscan"
	SourceTheGraph  = "thegraph"
	SourceEthplorer = "ethplorer"
	SourceRPCNode   = "rpcnode"
	SourceSimulator = "simulator"
)

// Default returns the baseline configuration with the three launch
// protocols registered.
func Default() *Config {
	return &Config{
		FallbackChain: map[string][]string{
			KindHolders:     {SourceEthplorer, SourceEtherscan, SourceRPCNode},
			KindProposals:   {SourceTheGraph, SourceEtherscan},
			KindVotes:       {SourceTheGraph, SourceEtherscan},
			KindDelegations: {SourceTheGraph, SourceRPCNode},
		},
		Retry: Retry{
			Base:        500 * time.Millisecond,
			Ceiling:     30 * time.Second,
			MaxAttempts: 4,
		},
		Concurrency: Concurrency{PerSource: 4, Global: 16},
		Cache: Cache{
			HoldersTTL:   10 * time.Minute,
			ProposalsTTL: 5 * time.Minute,
			VotesTTL:     5 * time.Minute,
			MaxEntries:   4096,
		},
		SnapshotStore: SnapshotStore{Backend: "disk", Path: "data/snapshots"},
		VotingBlocks: VotingBlocks{
			MinOverlap:          3,
			SimilarityThreshold: 0.8,
			LargeComponentSplit: 50,
		},
		Simulator:     Simulator{Seed: 42, Alpha: 1.16, DominantShare: 0.60},
		RateLimit:     RateLimit{PerSecond: 5, Burst: 10},
		BuildDeadline: 2 * time.Minute,
		MinSurvivors:  0.80,
		WhaleTopK:     10,
		Protocols: map[string]Protocol{
			"compound": {
				ID: "compound", Name: "Compound", Symbol: "COMP", Decimals: 18,
				Contract: "0xc00e94cb662c3520282e6f5717214004a7f26888",
			},
			"uniswap": {
				ID: "uniswap", Name: "Uniswap", Symbol: "UNI", Decimals: 18,
				Contract: "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984",
			},
			"aave": {
				ID: "aave", Name: "Aave", Symbol: "AAVE", Decimals: 18,
				Contract: "0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9",
			},
		},
	}
}

// Validate checks the record for values the core cannot operate with.
func (c *Config) Validate() error {
	if c.Retry.Base <= 0 || c.Retry.Ceiling <= 0 || c.Retry.MaxAttempts <= 0 {
		return errors.New("retry parameters must be positive")
	}
	if c.Retry.Ceiling < c.Retry.Base {
		return errors.New("retry ceiling below base")
	}
	if c.Concurrency.PerSource <= 0 || c.Concurrency.Global <= 0 {
		return errors.New("concurrency bounds must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.New("cache.max_entries must be positive")
	}
	switch c.SnapshotStore.Backend {
	case "mem":
	case "disk":
		if c.SnapshotStore.Path == "" {
			return errors.New("snapshot_store.path required for disk backend")
		}
	default:
		return errors.Errorf("unknown snapshot store backend %q", c.SnapshotStore.Backend)
	}
	if c.VotingBlocks.MinOverlap < 1 {
		return errors.New("voting_blocks.min_overlap must be at least 1")
	}
	if c.VotingBlocks.SimilarityThreshold < 0 || c.VotingBlocks.SimilarityThreshold > 1 {
		return errors.New("voting_blocks.similarity_threshold outside [0,1]")
	}
	if c.MinSurvivors <= 0 || c.MinSurvivors > 1 {
		return errors.New("min_survivors outside (0,1]")
	}
	if len(c.Protocols) == 0 {
		return errors.New("no protocols configured")
	}
	for kind, chain := range c.FallbackChain {
		switch kind {
		case KindHolders, KindProposals, KindVotes, KindDelegations:
		default:
			return errors.Errorf("unknown fallback chain kind %q", kind)
		}
		if len(chain) == 0 {
			return errors.Errorf("empty fallback chain for %q", kind)
		}
	}
	return nil
}

// ProtocolByID looks up a registered protocol.
func (c *Config) ProtocolByID(id string) (Protocol, bool) {
	p, ok := c.Protocols[id]
	return p, ok
}
