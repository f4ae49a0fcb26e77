package participation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscope/govscope/analyzer/types"
)

var testStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func holderSet() []types.HolderBalance {
	holders := []types.HolderBalance{
		{Address: "0xa", Balance: 500},
		{Address: "0xb", Balance: 300},
		{Address: "0xc", Balance: 150},
		{Address: "0xd", Balance: 50},
	}
	types.SortHolders(holders)
	return holders
}

func proposal(id string, status types.ProposalStatus) types.Proposal {
	return types.Proposal{
		ID:          id,
		ProtocolID:  "compound",
		Status:      status,
		VotingStart: testStart,
		VotingEnd:   testStart.Add(72 * time.Hour),
	}
}

func TestCompute_PowerWeightedTurnout(t *testing.T) {
	holders := holderSet() // eligible power 1000
	proposals := []types.Proposal{
		proposal("p1", types.StatusExecuted),
		proposal("p2", types.StatusDefeated),
	}
	votes := []types.Vote{
		{ProposalID: "p1", Voter: "0xa", Choice: types.ChoiceFor, Power: 500},
		{ProposalID: "p1", Voter: "0xc", Choice: types.ChoiceFor, Power: 150},
		{ProposalID: "p2", Voter: "0xb", Choice: types.ChoiceAgainst, Power: 300},
	}

	m := Compute(holders, proposals, votes, nil, Params{WhaleTopK: 2})

	// p1 turnout 650/1000, p2 turnout 300/1000; overall is cast over
	// eligible across both proposals, not an average of rates.
	require.Len(t, m.Proposals, 2)
	assert.InDelta(t, 0.65, m.Proposals[0].Turnout, 1e-9)
	assert.InDelta(t, 0.30, m.Proposals[1].Turnout, 1e-9)
	assert.InDelta(t, 950.0/2000.0, m.OverallTurnout, 1e-9)
	assert.Equal(t, 3, m.UniqueVoters)
}

func TestCompute_UniqueVotersNotTurnout(t *testing.T) {
	holders := holderSet()
	proposals := []types.Proposal{proposal("p1", types.StatusExecuted)}
	// One whale voting alone: tiny voter count, large turnout.
	votes := []types.Vote{
		{ProposalID: "p1", Voter: "0xa", Choice: types.ChoiceFor, Power: 500},
	}
	m := Compute(holders, proposals, votes, nil, Params{})
	assert.Equal(t, 1, m.UniqueVoters)
	assert.InDelta(t, 0.5, m.OverallTurnout, 1e-9)
}

func TestCompute_Buckets(t *testing.T) {
	holders := []types.HolderBalance{
		{Address: "0xa", Balance: 5},      // [1, 10)
		{Address: "0xb", Balance: 50},     // [10, 100)
		{Address: "0xc", Balance: 5000},   // [1000, 10000)
		{Address: "0xd", Balance: 50_000}, // [10000, inf)
	}
	types.SortHolders(holders)
	proposals := []types.Proposal{proposal("p1", types.StatusExecuted)}
	votes := []types.Vote{
		{ProposalID: "p1", Voter: "0xd", Choice: types.ChoiceFor, Power: 50_000},
		{ProposalID: "p1", Voter: "0xa", Choice: types.ChoiceFor, Power: 5},
	}

	m := Compute(holders, proposals, votes, nil, Params{})
	require.Len(t, m.Buckets, 6)

	small := m.Buckets[1] // [1, 10)
	assert.Equal(t, 1, small.Holders)
	assert.Equal(t, 1, small.Voters)
	assert.InDelta(t, 1.0, small.ParticipationRate, 1e-9)

	top := m.Buckets[5] // unbounded
	assert.Equal(t, 1, top.Holders)
	assert.Equal(t, 1, top.Voters)
	assert.InDelta(t, 50_000.0/50_005.0, top.CastPowerShare, 1e-9)

	empty := m.Buckets[2] // [10, 100): holder 0xb never voted
	assert.Equal(t, 1, empty.Holders)
	assert.Equal(t, 0, empty.Voters)
	assert.Zero(t, empty.ParticipationRate)
}

func TestCompute_WhaleStats(t *testing.T) {
	holders := holderSet()
	proposals := []types.Proposal{
		proposal("p1", types.StatusExecuted), // winning: for
		proposal("p2", types.StatusDefeated), // winning: against
	}
	votes := []types.Vote{
		// Whales are 0xa and 0xb (top 2).
		{ProposalID: "p1", Voter: "0xa", Choice: types.ChoiceFor, Power: 500},
		{ProposalID: "p1", Voter: "0xb", Choice: types.ChoiceAgainst, Power: 300},
		{ProposalID: "p2", Voter: "0xa", Choice: types.ChoiceAgainst, Power: 500},
		{ProposalID: "p2", Voter: "0xc", Choice: types.ChoiceAgainst, Power: 150},
	}

	m := Compute(holders, proposals, votes, nil, Params{WhaleTopK: 2})

	// Whale ballots on decided proposals: 0xa/p1 (won), 0xb/p1 (lost),
	// 0xa/p2 (won). Agreement 2/3.
	assert.Equal(t, 2, m.Whales.TopK)
	assert.InDelta(t, 2.0/3.0, m.Whales.AgreementRate, 1e-9)
	// Winning-side power: p1 for = 500 (whale), p2 against = 650 of which
	// whales cast 500.
	assert.InDelta(t, 1000.0/1150.0, m.Whales.WinningSideShare, 1e-9)
}

func TestCompute_ZeroVoteProposal(t *testing.T) {
	holders := holderSet()
	proposals := []types.Proposal{proposal("p1", types.StatusDefeated)}
	m := Compute(holders, proposals, nil, nil, Params{})
	require.Len(t, m.Proposals, 1)
	assert.Zero(t, m.Proposals[0].Turnout)
	assert.Zero(t, m.OverallTurnout)
	assert.Zero(t, m.UniqueVoters)
}

func TestCompute_DelegateInfluence(t *testing.T) {
	holders := holderSet()
	proposals := []types.Proposal{proposal("p1", types.StatusExecuted)}
	votes := []types.Vote{
		// 0xa votes with own 500 plus the 50 delegated in from 0xd.
		{ProposalID: "p1", Voter: "0xa", Choice: types.ChoiceFor, Power: 550},
		{ProposalID: "p1", Voter: "0xb", Choice: types.ChoiceAgainst, Power: 300},
	}
	delegations := []types.Delegation{
		{Delegator: "0xd", Delegatee: "0xa", Since: testStart, Full: true},
		{Delegator: "0xc", Delegatee: "0xb", Since: testStart, Amount: 100},
		// Delegatee 0xe never voted; its delegated-in power is idle.
		{Delegator: "0xc", Delegatee: "0xe", Since: testStart, Amount: 25},
	}

	m := Compute(holders, proposals, votes, delegations, Params{})
	d := m.Delegation

	assert.Equal(t, 3, d.ActiveDelegations)
	require.Len(t, d.Delegates, 3)
	// Descending delegated-in power: 0xb 100, 0xa 50 (0xd's full balance),
	// 0xe 25.
	assert.Equal(t, "0xb", d.Delegates[0].Delegatee)
	assert.Equal(t, uint64(100), d.Delegates[0].DelegatedPower)
	assert.Equal(t, uint64(300), d.Delegates[0].CastPower)
	assert.Equal(t, 1, d.Delegates[0].Delegators)
	assert.Equal(t, "0xa", d.Delegates[1].Delegatee)
	assert.Equal(t, uint64(50), d.Delegates[1].DelegatedPower)
	assert.Equal(t, "0xe", d.Delegates[2].Delegatee)
	assert.Equal(t, uint64(0), d.Delegates[2].CastPower)

	// Exercised delegation: 0xa min(50, 550)=50, 0xb min(100, 300)=100,
	// 0xe min(25, 0)=0; cast total 850.
	assert.InDelta(t, 150.0/850.0, d.DelegatedCastShare, 1e-9)
}

func TestCompute_NoDelegations(t *testing.T) {
	holders := holderSet()
	m := Compute(holders, nil, nil, nil, Params{})
	assert.Zero(t, m.Delegation.ActiveDelegations)
	assert.Empty(t, m.Delegation.Delegates)
	assert.Zero(t, m.Delegation.DelegatedCastShare)
}

func TestWinningChoice(t *testing.T) {
	for status, want := range map[types.ProposalStatus]types.VoteChoice{
		types.StatusSucceeded: types.ChoiceFor,
		types.StatusExecuted:  types.ChoiceFor,
		types.StatusDefeated:  types.ChoiceAgainst,
		types.StatusExpired:   types.ChoiceAgainst,
	} {
		p := proposal("p", status)
		choice, decided := WinningChoice(&p)
		require.True(t, decided, "status %s", status)
		assert.Equal(t, want, choice, "status %s", status)
	}
	for _, status := range []types.ProposalStatus{
		types.StatusPending, types.StatusActive, types.StatusCancelled,
	} {
		p := proposal("p", status)
		_, decided := WinningChoice(&p)
		assert.False(t, decided, "status %s", status)
	}
}
