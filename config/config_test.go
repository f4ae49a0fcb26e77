package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	for _, id := range []string{"compound", "uniswap", "aave"} {
		p, ok := cfg.ProtocolByID(id)
		require.True(t, ok, id)
		assert.Equal(t, id, p.ID)
		assert.NotEmpty(t, p.Contract)
	}
	_, ok := cfg.ProtocolByID("dogecoin")
	assert.False(t, ok)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry parameters"},
		{"ceiling below base", func(c *Config) { c.Retry.Ceiling = c.Retry.Base / 2 }, "ceiling below base"},
		{"zero global concurrency", func(c *Config) { c.Concurrency.Global = 0 }, "concurrency bounds"},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "max_entries"},
		{"disk backend without path", func(c *Config) { c.SnapshotStore.Path = "" }, "snapshot_store.path"},
		{"unknown backend", func(c *Config) { c.SnapshotStore.Backend = "redis" }, "unknown snapshot store backend"},
		{"zero overlap", func(c *Config) { c.VotingBlocks.MinOverlap = 0 }, "min_overlap"},
		{"threshold above one", func(c *Config) { c.VotingBlocks.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"survivor share above one", func(c *Config) { c.MinSurvivors = 1.5 }, "min_survivors"},
		{"no protocols", func(c *Config) { c.Protocols = nil }, "no protocols"},
		{"unknown chain kind", func(c *Config) { c.FallbackChain["blocks"] = []string{SourceEtherscan} }, "unknown fallback chain kind"},
		{"empty chain", func(c *Config) { c.FallbackChain[KindVotes] = nil }, "empty fallback chain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestMemBackendNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.SnapshotStore = SnapshotStore{Backend: "mem"}
	assert.NoError(t, cfg.Validate())
}
