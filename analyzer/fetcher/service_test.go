package fetcher

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscope/govscope/analyzer/providers"
	"github.com/govscope/govscope/analyzer/simulator"
	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

var refTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAdapter answers every operation with canned data, or with err when set.
type fakeAdapter struct {
	id    string
	tier  types.Provenance
	err   error
	calls int

	page        *providers.HolderPage
	proposals   []providers.RawProposal
	votes       []providers.RawVote
	delegations []providers.RawDelegation
}

func (f *fakeAdapter) ID() string             { return f.id }
func (f *fakeAdapter) Tier() types.Provenance { return f.tier }

func (f *fakeAdapter) Holders(_ context.Context, _ config.Protocol, _ time.Time, _ int, _ string) (*providers.HolderPage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeAdapter) Proposals(_ context.Context, _ config.Protocol, _, _ time.Time) ([]providers.RawProposal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.proposals, nil
}

func (f *fakeAdapter) Votes(_ context.Context, _ config.Protocol, _ string) ([]providers.RawVote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.votes, nil
}

func (f *fakeAdapter) Delegations(_ context.Context, _ config.Protocol, _, _ time.Time) ([]providers.RawDelegation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.delegations, nil
}

func goodPage() *providers.HolderPage {
	return &providers.HolderPage{
		Holders: []providers.RawHolder{
			{Address: "0xa", Balance: big.NewInt(400)},
			{Address: "0xb", Balance: big.NewInt(300)},
			{Address: "0xc", Balance: big.NewInt(200)},
			{Address: "0xd", Balance: big.NewInt(100)},
		},
		Supply: big.NewInt(1000),
	}
}

func testConfig(chains map[string][]string) *config.Config {
	cfg := config.Default()
	cfg.Retry = config.Retry{Base: time.Millisecond, Ceiling: 5 * time.Millisecond, MaxAttempts: 3}
	cfg.RateLimit = config.RateLimit{PerSecond: 10_000, Burst: 10_000}
	cfg.FallbackChain = chains
	return cfg
}

func testService(t *testing.T, cfg *config.Config, sim *simulator.Generator, adapters ...providers.Adapter) *Service {
	t.Helper()
	registry := providers.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, registry.Register(a))
	}
	svc, err := New(cfg, registry, sim)
	require.NoError(t, err)
	return svc
}

func TestHolders_FallbackAfterRetryExhaustion(t *testing.T) {
	flaky := &fakeAdapter{id: "flaky", tier: types.ProvenanceLive,
		err: types.Errorf(types.KindTransientUnavailable, "flaky", "connection reset")}
	backup := &fakeAdapter{id: "backup", tier: types.ProvenanceFallbackFreeTier, page: goodPage()}
	cfg := testConfig(map[string][]string{config.KindHolders: {"flaky", "backup"}})
	svc := testService(t, cfg, nil, flaky, backup)

	result, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.NoError(t, err)

	// The flaky source burns its full attempt budget before the chain moves.
	assert.Equal(t, cfg.Retry.MaxAttempts, flaky.calls)
	assert.Equal(t, 1, backup.calls)
	assert.Equal(t, types.ProvenanceFallbackFreeTier, result.Provenance)
	assert.Equal(t, uint64(1000), result.Supply)
	assert.Len(t, result.Holders, 4)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "flaky")
}

func TestHolders_SkipSourceWithoutRetry(t *testing.T) {
	locked := &fakeAdapter{id: "locked", tier: types.ProvenanceLive,
		err: types.Errorf(types.KindAuthMissing, "locked", "no api key configured")}
	backup := &fakeAdapter{id: "backup", tier: types.ProvenanceFallbackFreeTier, page: goodPage()}
	cfg := testConfig(map[string][]string{config.KindHolders: {"locked", "backup"}})
	svc := testService(t, cfg, nil, locked, backup)

	result, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.NoError(t, err)
	assert.Equal(t, 1, locked.calls, "auth failures must not be retried")
	assert.Equal(t, types.ProvenanceFallbackFreeTier, result.Provenance)
}

func TestHolders_SecondCallServedFromCache(t *testing.T) {
	src := &fakeAdapter{id: "src", tier: types.ProvenanceLive, page: goodPage()}
	cfg := testConfig(map[string][]string{config.KindHolders: {"src"}})
	svc := testService(t, cfg, nil, src)

	first, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.NoError(t, err)
	assert.Equal(t, types.ProvenanceLive, first.Provenance)

	second, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, types.ProvenanceCached, second.Provenance)
	assert.Equal(t, first.Holders, second.Holders)
}

func TestHolders_CancellationNeverDegrades(t *testing.T) {
	src := &fakeAdapter{id: "src", tier: types.ProvenanceLive, page: goodPage()}
	cfg := testConfig(map[string][]string{config.KindHolders: {"src"}})
	sim := simulator.New(config.Simulator{Seed: 1})
	svc := testService(t, cfg, sim, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Holders(ctx, cfg.Protocols["compound"], refTime)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindCancelled))
}

func TestHolders_DegradesToSimulatorOnExhaustion(t *testing.T) {
	broken := &fakeAdapter{id: "broken", tier: types.ProvenanceLive,
		err: types.Errorf(types.KindPermanentSchema, "broken", "body is not json")}
	cfg := testConfig(map[string][]string{config.KindHolders: {"broken"}})
	sim := simulator.New(config.Simulator{Seed: 1})
	svc := testService(t, cfg, sim, broken)

	result, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.NoError(t, err)
	assert.Equal(t, types.ProvenanceSimulated, result.Provenance)
	assert.NotEmpty(t, result.Holders)
	assert.Equal(t, uint64(1), result.Scale)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "serving simulated data")
}

func TestHolders_ExhaustionWithoutSimulatorFails(t *testing.T) {
	broken := &fakeAdapter{id: "broken", tier: types.ProvenanceLive,
		err: types.Errorf(types.KindPermanentSchema, "broken", "body is not json")}
	cfg := testConfig(map[string][]string{config.KindHolders: {"broken"}})
	svc := testService(t, cfg, nil, broken)

	_, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTransientUnavailable))
}

func TestHolders_UnregisteredSourceSkipped(t *testing.T) {
	backup := &fakeAdapter{id: "backup", tier: types.ProvenanceFallbackFreeTier, page: goodPage()}
	cfg := testConfig(map[string][]string{config.KindHolders: {"ghost", "backup"}})
	svc := testService(t, cfg, nil, backup)

	result, err := svc.Holders(context.Background(), cfg.Protocols["compound"], refTime)
	require.NoError(t, err)
	assert.Equal(t, types.ProvenanceFallbackFreeTier, result.Provenance)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "not registered")
}

func TestProposals_DegradeIsDeterministic(t *testing.T) {
	broken := &fakeAdapter{id: "broken", tier: types.ProvenanceLive,
		err: types.Errorf(types.KindNotSupported, "broken", "no governance endpoint")}
	cfg := testConfig(map[string][]string{config.KindProposals: {"broken"}})
	since := refTime.Add(-60 * 24 * time.Hour)

	sim := simulator.New(config.Simulator{Seed: 9})
	svc := testService(t, cfg, sim, broken)
	first, err := svc.Proposals(context.Background(), cfg.Protocols["compound"], since, refTime, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ProvenanceSimulated, first.Provenance)
	assert.NotEmpty(t, first.Proposals)

	// A fresh service with the same seed degrades to identical data.
	other := testService(t, testConfig(map[string][]string{config.KindProposals: {"broken"}}),
		simulator.New(config.Simulator{Seed: 9}),
		&fakeAdapter{id: "broken", tier: types.ProvenanceLive,
			err: types.Errorf(types.KindNotSupported, "broken", "no governance endpoint")})
	second, err := other.Proposals(context.Background(), cfg.Protocols["compound"], since, refTime, 1)
	require.NoError(t, err)
	assert.Equal(t, first.Proposals, second.Proposals)
}

func TestVotes_EmptyProposalSet(t *testing.T) {
	cfg := testConfig(map[string][]string{config.KindVotes: {"src"}})
	svc := testService(t, cfg, nil)

	result, err := svc.Votes(context.Background(), cfg.Protocols["compound"], nil, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Votes)
	assert.Equal(t, types.ProvenanceLive, result.Provenance)
}

func TestVotes_SingleSourcePerSnapshot(t *testing.T) {
	cast := refTime.Add(-24 * time.Hour)
	src := &fakeAdapter{id: "src", tier: types.ProvenanceLive, votes: []providers.RawVote{
		{ProposalID: "1", Voter: "0xa", Choice: "for", Power: big.NewInt(10), CastAt: cast},
	}}
	cfg := testConfig(map[string][]string{config.KindVotes: {"src"}})
	svc := testService(t, cfg, nil, src)

	proposals := []types.Proposal{
		{ID: "1", VotingEnd: refTime},
		{ID: "2", VotingEnd: refTime},
	}
	result, err := svc.Votes(context.Background(), cfg.Protocols["compound"], proposals, 1)
	require.NoError(t, err)
	// One adapter call per proposal, all against the same source.
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, types.ProvenanceLive, result.Provenance)
}

func TestRetrier_BackoffDoublesToCeiling(t *testing.T) {
	r := newRetrier(config.Retry{Base: 100 * time.Millisecond, Ceiling: time.Second, MaxAttempts: 10})

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, want := range expected {
		assert.Equal(t, want, r.backoff(attempt+1), "attempt %d", attempt+1)
	}
}

func TestRetrier_NextJittersWithinBounds(t *testing.T) {
	transient := types.Errorf(types.KindTransientUnavailable, "s", "x")
	for i := 0; i < 50; i++ {
		r := newRetrier(config.Retry{Base: 100 * time.Millisecond, Ceiling: time.Second, MaxAttempts: 10})
		wait, again := r.next(transient)
		require.True(t, again)
		assert.Equal(t, stateRetrying, r.state)
		// First attempt: 100ms scaled by a uniform factor in [0.5, 1.5).
		assert.GreaterOrEqual(t, wait, 50*time.Millisecond)
		assert.Less(t, wait, 150*time.Millisecond)
	}
}

func TestRetrier_ServerRetryAfterOverrides(t *testing.T) {
	r := newRetrier(config.Retry{Base: 100 * time.Millisecond, Ceiling: time.Second, MaxAttempts: 5})

	wait, again := r.next(types.RateLimitedError("s", 700*time.Millisecond, nil))
	require.True(t, again)
	assert.Equal(t, 700*time.Millisecond, wait)

	// The suggested delay replaces the computed backoff outright, jitter
	// and ceiling included.
	wait, again = r.next(types.RateLimitedError("s", time.Minute, nil))
	require.True(t, again)
	assert.Equal(t, time.Minute, wait)
}

func TestRetrier_NonRetryableExhaustsImmediately(t *testing.T) {
	r := newRetrier(config.Retry{Base: time.Millisecond, Ceiling: time.Second, MaxAttempts: 5})
	_, again := r.next(types.Errorf(types.KindPermanentSchema, "s", "bad payload"))
	assert.False(t, again)
	assert.Equal(t, stateExhausted, r.state)
}

func TestRetrier_AttemptBudget(t *testing.T) {
	r := newRetrier(config.Retry{Base: time.Millisecond, Ceiling: time.Second, MaxAttempts: 3})
	transient := types.Errorf(types.KindTransientUnavailable, "s", "x")

	_, again := r.next(transient)
	require.True(t, again)
	_, again = r.next(transient)
	require.True(t, again)
	_, again = r.next(transient)
	assert.False(t, again, "third failure spends the budget of three attempts")
	assert.Equal(t, stateExhausted, r.state)
}

func TestLimiter_LocalBucketRejects(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit = config.RateLimit{PerSecond: 1, Burst: 1}
	l := newLimiter(cfg)

	release, err := l.acquire(context.Background(), "src")
	require.NoError(t, err)
	release()

	_, err = l.acquire(context.Background(), "src")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindRateLimited))

	// Another source has its own bucket.
	release, err = l.acquire(context.Background(), "other")
	require.NoError(t, err)
	release()
}

func TestLimiter_PerSourceBound(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit = config.RateLimit{PerSecond: 10_000, Burst: 10_000}
	cfg.Concurrency = config.Concurrency{PerSource: 1, Global: 8}
	l := newLimiter(cfg)
	l.wait = 10 * time.Millisecond

	release, err := l.acquire(context.Background(), "src")
	require.NoError(t, err)

	// The single source slot is held, so the next acquire times out of the
	// bounded queue.
	_, err = l.acquire(context.Background(), "src")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindRateLimited))

	// Other sources have their own slots.
	otherRelease, err := l.acquire(context.Background(), "other")
	require.NoError(t, err)
	otherRelease()

	release()
	release, err = l.acquire(context.Background(), "src")
	require.NoError(t, err)
	release()
}

func TestLimiter_GlobalBound(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit = config.RateLimit{PerSecond: 10_000, Burst: 10_000}
	cfg.Concurrency = config.Concurrency{PerSource: 4, Global: 1}
	l := newLimiter(cfg)
	l.wait = 10 * time.Millisecond

	release, err := l.acquire(context.Background(), "src")
	require.NoError(t, err)

	// A different source still contends for the single global slot.
	_, err = l.acquire(context.Background(), "other")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindRateLimited))
	release()
}

func TestCacheKey_MinuteGranularity(t *testing.T) {
	a := cacheKey(config.KindHolders, "compound", refTime, "")
	b := cacheKey(config.KindHolders, "compound", refTime.Add(10*time.Second), "")
	c := cacheKey(config.KindHolders, "compound", refTime.Add(2*time.Minute), "")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, cacheKey(config.KindHolders, "uniswap", refTime, ""))
	assert.NotEqual(t, a, cacheKey(config.KindProposals, "compound", refTime, ""))
}
