// Package types defines the canonical data model shared by every stage of
// the governance analytics pipeline, together with the closed error taxonomy
// and the metric selector grammar. All token amounts are integer base units;
// percentages are derived at computation time and never stored.
package types

import (
	"sort"
	"time"
)

// Provenance tags the tier of the data behind an analytical result.
type Provenance string

const (
	// ProvenanceLive marks data served by a fully-credentialed source.
	ProvenanceLive Provenance = "live"
	// ProvenanceFallbackFreeTier marks data served by a keyless or
	// degraded source tier.
	ProvenanceFallbackFreeTier Provenance = "fallback-free-tier"
	// ProvenanceCached marks data served from the response cache.
	ProvenanceCached Provenance = "cached"
	// ProvenanceSimulated marks synthetic data from the simulator.
	ProvenanceSimulated Provenance = "simulated"
)

// provenanceRank orders tiers from strongest to weakest.
var provenanceRank = map[Provenance]int{
	ProvenanceLive:             0,
	ProvenanceFallbackFreeTier: 1,
	ProvenanceCached:           2,
	ProvenanceSimulated:        3,
}

// Weakest returns the weaker of the two tiers. A snapshot assembled from
// mixed tiers carries the weakest tier that contributed to it.
func (p Provenance) Weakest(other Provenance) Provenance {
	if provenanceRank[other] > provenanceRank[p] {
		return other
	}
	return p
}

// Valid reports whether p is a known tier.
func (p Provenance) Valid() bool {
	_, ok := provenanceRank[p]
	return ok
}

// Protocol describes a governance token protocol. Immutable within a
// snapshot.
type Protocol struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply uint64 `json:"total_supply"`
	Contract    string `json:"contract"`
}

// HolderBalance is a single holder's balance at the snapshot reference.
// Rank is 1-based by descending balance; ties break by address bytes
// lexicographically.
type HolderBalance struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Rank    int    `json:"rank"`
}

// SortHolders orders holders by descending balance with lexicographic
// address tie-break and assigns contiguous 1-based ranks.
func SortHolders(holders []HolderBalance) {
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Balance != holders[j].Balance {
			return holders[i].Balance > holders[j].Balance
		}
		return holders[i].Address < holders[j].Address
	})
	for i := range holders {
		holders[i].Rank = i + 1
	}
}

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusActive    ProposalStatus = "active"
	StatusSucceeded ProposalStatus = "succeeded"
	StatusDefeated  ProposalStatus = "defeated"
	StatusExecuted  ProposalStatus = "executed"
	StatusCancelled ProposalStatus = "cancelled"
	StatusExpired   ProposalStatus = "expired"
)

var proposalStatuses = map[ProposalStatus]bool{
	StatusPending: true, StatusActive: true, StatusSucceeded: true,
	StatusDefeated: true, StatusExecuted: true, StatusCancelled: true,
	StatusExpired: true,
}

// Valid reports whether s is a known status.
func (s ProposalStatus) Valid() bool {
	return proposalStatuses[s]
}

// Terminal reports whether the status can no longer change.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusExpired, StatusDefeated:
		return true
	}
	return false
}

// VoteChoice is a ternary vote selection.
type VoteChoice string

const (
	ChoiceFor     VoteChoice = "for"
	ChoiceAgainst VoteChoice = "against"
	ChoiceAbstain VoteChoice = "abstain"
)

// Valid reports whether c is a known choice.
func (c VoteChoice) Valid() bool {
	return c == ChoiceFor || c == ChoiceAgainst || c == ChoiceAbstain
}

// Tally holds vote power totals in base units.
type Tally struct {
	For     uint64 `json:"for"`
	Against uint64 `json:"against"`
	Abstain uint64 `json:"abstain"`
}

// Cast returns the total cast power.
func (t Tally) Cast() uint64 {
	return t.For + t.Against + t.Abstain
}

// Proposal is a governance proposal with its tallies at snapshot time.
type Proposal struct {
	ProtocolID  string            `json:"protocol_id"`
	ID          string            `json:"id"`
	Proposer    string            `json:"proposer"`
	Created     time.Time         `json:"created"`
	VotingStart time.Time         `json:"voting_start"`
	VotingEnd   time.Time         `json:"voting_end"`
	Status      ProposalStatus    `json:"status"`
	Quorum      uint64            `json:"quorum"`
	Tallies     Tally             `json:"tallies"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Passed reports whether the for side carried the proposal.
func (p *Proposal) Passed() bool {
	switch p.Status {
	case StatusSucceeded, StatusExecuted:
		return true
	}
	return false
}

// Vote is a single ballot. Power is the voter's holdings plus delegated-in
// power at the proposal's reference block.
type Vote struct {
	ProposalID string     `json:"proposal_id"`
	Voter      string     `json:"voter"`
	Choice     VoteChoice `json:"choice"`
	Power      uint64     `json:"power"`
	CastAt     time.Time  `json:"cast_at"`
}

// Delegation assigns voting power from Delegator to Delegatee without
// transferring ownership. Full marks whole-balance delegation; Amount is
// meaningful only when Full is false.
type Delegation struct {
	Delegator string    `json:"delegator"`
	Delegatee string    `json:"delegatee"`
	Since     time.Time `json:"since"`
	Amount    uint64    `json:"amount"`
	Full      bool      `json:"full"`
}

// LorenzPoint is one sampled point of the Lorenz curve: cumulative
// population share against cumulative wealth share, both in [0,1].
type LorenzPoint struct {
	Population float64 `json:"population"`
	Wealth     float64 `json:"wealth"`
}

// ConcentrationMetrics bundles the holder concentration measures.
// Degenerate is set for empty or zero-total inputs, in which case every
// other field holds its sentinel.
type ConcentrationMetrics struct {
	Gini       float64         `json:"gini"`
	HHI        float64         `json:"hhi"`
	Nakamoto   int             `json:"nakamoto"`
	Palma      *float64        `json:"palma"`
	Hoover     float64         `json:"hoover"`
	Theil      float64         `json:"theil"`
	TopShares  map[int]float64 `json:"top_shares"`
	Lorenz     []LorenzPoint   `json:"lorenz"`
	Holders    int             `json:"holders"`
	Total      uint64          `json:"total"`
	Degenerate bool            `json:"degenerate"`
}

// ProposalTurnout is per-proposal participation.
type ProposalTurnout struct {
	ProposalID string  `json:"proposal_id"`
	Turnout    float64 `json:"turnout"`
	CastPower  uint64  `json:"cast_power"`
	Voters     int     `json:"voters"`
}

// SizeBucket reports participation for holders within a balance range.
// Max is exclusive; zero Max means unbounded.
type SizeBucket struct {
	Min               uint64  `json:"min"`
	Max               uint64  `json:"max"`
	Holders           int     `json:"holders"`
	Voters            int     `json:"voters"`
	ParticipationRate float64 `json:"participation_rate"`
	CastPowerShare    float64 `json:"cast_power_share"`
}

// WhaleStats summarizes top-K holder behavior across proposals.
type WhaleStats struct {
	TopK             int     `json:"top_k"`
	AgreementRate    float64 `json:"agreement_rate"`
	WinningSideShare float64 `json:"winning_side_share"`
}

// DelegateInfluence is one delegatee's delegated-in standing. CastPower is
// the delegatee's total cast power across the snapshot's proposals.
type DelegateInfluence struct {
	Delegatee      string `json:"delegatee"`
	Delegators     int    `json:"delegators"`
	DelegatedPower uint64 `json:"delegated_power"`
	CastPower      uint64 `json:"cast_power"`
}

// DelegationStats summarizes delegate influence across a snapshot.
// DelegatedCastShare is the share of all cast power that delegatees
// exercised out of delegated-in power.
type DelegationStats struct {
	ActiveDelegations  int                 `json:"active_delegations"`
	Delegates          []DelegateInfluence `json:"delegates,omitempty"`
	DelegatedCastShare float64             `json:"delegated_cast_share"`
}

// ParticipationMetrics bundles governance participation measures. Turnout
// values are power-weighted; UniqueVoters is the distinct voter count and is
// deliberately a separate field.
type ParticipationMetrics struct {
	OverallTurnout float64           `json:"overall_turnout"`
	UniqueVoters   int               `json:"unique_voters"`
	Proposals      []ProposalTurnout `json:"proposals"`
	Buckets        []SizeBucket      `json:"buckets"`
	Whales         WhaleStats        `json:"whales"`
	Delegation     DelegationStats   `json:"delegation"`
}

// VotingBlock is a set of voters with high pairwise agreement. Derived from
// a snapshot, never independently persisted.
type VotingBlock struct {
	Members   []string `json:"members"`
	Power     uint64   `json:"power"`
	Cohesion  float64  `json:"cohesion"`
	Influence float64  `json:"influence"`
}

// AnomalyCategory tags a voting-pattern anomaly.
type AnomalyCategory string

const (
	AnomalyCoordinatedVoting   AnomalyCategory = "coordinated_voting"
	AnomalyWhaleVsOutcome      AnomalyCategory = "whale_vs_outcome"
	AnomalyPowerOutcomeDiverge AnomalyCategory = "power_outcome_divergence"
	AnomalyParticipationSpike  AnomalyCategory = "participation_spike"
)

// Anomaly is a single detected irregularity. Exactly one of ProposalID,
// BlockIndex (index into the reported block list) or Address is meaningful
// per category. Severity orders anomalies; no textual interpretation is
// attached.
type Anomaly struct {
	Category   AnomalyCategory `json:"category"`
	ProposalID string          `json:"proposal_id,omitempty"`
	BlockIndex int             `json:"block_index,omitempty"`
	Address    string          `json:"address,omitempty"`
	Severity   float64         `json:"severity"`
}

// BlockMetrics bundles voting-block analysis output.
type BlockMetrics struct {
	Blocks    []VotingBlock `json:"blocks"`
	Anomalies []Anomaly     `json:"anomalies"`
}

// MetricSet is the computed metric bundle embedded in a snapshot.
type MetricSet struct {
	Concentration *ConcentrationMetrics `json:"concentration,omitempty"`
	Participation *ParticipationMetrics `json:"participation,omitempty"`
	VotingBlocks  *BlockMetrics         `json:"voting_blocks,omitempty"`
}

// Snapshot is the analytical bundle for one (protocol, timestamp). A
// snapshot exclusively owns its embedded sets; it is created once and never
// mutated afterwards. Scale records the power-of-ten divisor applied when
// raw amounts exceeded the uint64 range (1 when untouched).
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	Protocol      Protocol        `json:"protocol"`
	Timestamp     time.Time       `json:"timestamp"`
	Provenance    Provenance      `json:"provenance"`
	Scale         uint64          `json:"scale"`
	Holders       []HolderBalance `json:"holders"`
	Proposals     []Proposal      `json:"proposals"`
	Votes         []Vote          `json:"votes"`
	Delegations   []Delegation    `json:"delegations"`
	Metrics       *MetricSet      `json:"metrics,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// CurrentSchemaVersion is the persisted snapshot schema version.
const CurrentSchemaVersion = 1

// Key identifies a snapshot.
func (s *Snapshot) Key() SnapshotKey {
	return SnapshotKey{ProtocolID: s.Protocol.ID, Timestamp: s.Timestamp.UTC()}
}

// SnapshotKey is the (protocol, timestamp) identity of a snapshot.
// Cross-snapshot references use keys, never shared handles.
type SnapshotKey struct {
	ProtocolID string    `json:"protocol_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// SeriesPoint is one element of a metric time series. Gap marks a snapshot
// in range from which the selected metric could not be projected; the store
// never interpolates.
type SeriesPoint struct {
	Timestamp  time.Time  `json:"timestamp"`
	Value      float64    `json:"value"`
	Provenance Provenance `json:"provenance"`
	Gap        bool       `json:"gap,omitempty"`
}
