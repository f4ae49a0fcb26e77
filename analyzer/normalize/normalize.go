// Package normalize converts raw adapter records into the canonical model.
// Records that violate the schema are dropped with a structured warning; a
// kind whose surviving share falls below the configured minimum fails
// normalization entirely so the fetch coordinator can advance its fallback
// chain instead of fabricating a thin snapshot.
package normalize

import (
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/govscope/govscope/analyzer/providers"
	"github.com/govscope/govscope/analyzer/types"
)

var log = logrus.WithField("prefix", "normalize")

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// Scale returns the smallest power-of-ten divisor that brings maxVal into
// the uint64 range. Applied uniformly to a dataset it preserves every ratio
// the metric layer computes.
func Scale(maxVal *big.Int) uint64 {
	if maxVal == nil || maxVal.CmpAbs(maxUint64) <= 0 {
		return 1
	}
	scale := uint64(1)
	scaled := new(big.Int).Set(maxVal)
	ten := big.NewInt(10)
	for scaled.CmpAbs(maxUint64) > 0 {
		scaled.Quo(scaled, ten)
		scale *= 10
	}
	return scale
}

// Apply divides a raw amount by the dataset scale, saturating at the uint64
// ceiling (unreachable when scale came from Scale over the same dataset).
func Apply(v *big.Int, scale uint64) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	scaled := v
	if scale > 1 {
		scaled = new(big.Int).Quo(v, new(big.Int).SetUint64(scale))
	}
	if scaled.Cmp(maxUint64) > 0 {
		return math.MaxUint64
	}
	return scaled.Uint64()
}

// survivorGate fails a kind whose surviving record share is below minShare.
func survivorGate(source, kind string, kept, total int, minShare float64) error {
	if total == 0 || float64(kept) >= minShare*float64(total) {
		return nil
	}
	return types.Errorf(types.KindPermanentSchema, source,
		"%s: only %d/%d records survived normalization (minimum %.0f%%)",
		kind, kept, total, minShare*100)
}

// Holders validates holder records, derives the dataset scale from the
// largest balance (and supply, when reported), and emits ranked balances.
func Holders(source string, raw []providers.RawHolder, supply *big.Int, minShare float64) ([]types.HolderBalance, uint64, []string, error) {
	maxVal := new(big.Int)
	if supply != nil {
		maxVal.Set(supply)
	}
	for _, h := range raw {
		if h.Balance != nil && h.Balance.Cmp(maxVal) > 0 {
			maxVal.Set(h.Balance)
		}
	}
	scale := Scale(maxVal)

	var warnings []string
	seen := make(map[string]bool, len(raw))
	holders := make([]types.HolderBalance, 0, len(raw))
	for i, h := range raw {
		switch {
		case h.Address == "":
			warnings = appendWarning(warnings, source, "holder record %d has empty address", i)
		case h.Balance == nil || h.Balance.Sign() < 0:
			warnings = appendWarning(warnings, source, "holder %s has invalid balance", h.Address)
		case seen[h.Address]:
			warnings = appendWarning(warnings, source, "holder %s duplicated", h.Address)
		default:
			seen[h.Address] = true
			holders = append(holders, types.HolderBalance{
				Address: h.Address,
				Balance: Apply(h.Balance, scale),
			})
			continue
		}
	}
	if err := survivorGate(source, "holders", len(holders), len(raw), minShare); err != nil {
		return nil, 0, warnings, err
	}
	types.SortHolders(holders)
	return holders, scale, warnings, nil
}

// Proposals validates proposal records against the canonical schema.
func Proposals(source, protocolID string, raw []providers.RawProposal, scale uint64, minShare float64) ([]types.Proposal, []string, error) {
	var warnings []string
	proposals := make([]types.Proposal, 0, len(raw))
	for _, p := range raw {
		status, ok := mapStatus(p.Status)
		switch {
		case p.ID == "":
			warnings = appendWarning(warnings, source, "proposal with empty id dropped")
			continue
		case !ok:
			warnings = appendWarning(warnings, source, "proposal %s has unknown status %q", p.ID, p.Status)
			continue
		case p.VotingEnd.Before(p.VotingStart):
			warnings = appendWarning(warnings, source, "proposal %s ends before it starts", p.ID)
			continue
		case isNegative(p.Quorum) || isNegative(p.For) || isNegative(p.Against) || isNegative(p.Abstain):
			warnings = appendWarning(warnings, source, "proposal %s carries a negative amount", p.ID)
			continue
		}
		proposals = append(proposals, types.Proposal{
			ProtocolID:  protocolID,
			ID:          p.ID,
			Proposer:    p.Proposer,
			Created:     p.Created.UTC(),
			VotingStart: p.VotingStart.UTC(),
			VotingEnd:   p.VotingEnd.UTC(),
			Status:      status,
			Quorum:      Apply(p.Quorum, scale),
			Tallies: types.Tally{
				For:     Apply(p.For, scale),
				Against: Apply(p.Against, scale),
				Abstain: Apply(p.Abstain, scale),
			},
			Metadata: p.Metadata,
		})
	}
	if err := survivorGate(source, "proposals", len(proposals), len(raw), minShare); err != nil {
		return nil, warnings, err
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].ID < proposals[j].ID })
	return proposals, warnings, nil
}

// Votes validates vote records and enforces at most one vote per
// (proposal, voter); later duplicates drop with a warning.
func Votes(source string, raw []providers.RawVote, scale uint64, minShare float64) ([]types.Vote, []string, error) {
	var warnings []string
	type voteKey struct{ proposal, voter string }
	seen := make(map[voteKey]bool, len(raw))
	votes := make([]types.Vote, 0, len(raw))
	for _, v := range raw {
		choice, ok := mapChoice(v.Choice)
		key := voteKey{v.ProposalID, v.Voter}
		switch {
		case v.ProposalID == "" || v.Voter == "":
			warnings = appendWarning(warnings, source, "vote with empty reference dropped")
			continue
		case !ok:
			warnings = appendWarning(warnings, source, "vote by %s has unknown choice %q", v.Voter, v.Choice)
			continue
		case isNegative(v.Power):
			warnings = appendWarning(warnings, source, "vote by %s has negative power", v.Voter)
			continue
		case seen[key]:
			warnings = appendWarning(warnings, source, "duplicate vote by %s on %s", v.Voter, v.ProposalID)
			continue
		}
		seen[key] = true
		votes = append(votes, types.Vote{
			ProposalID: v.ProposalID,
			Voter:      v.Voter,
			Choice:     choice,
			Power:      Apply(v.Power, scale),
			CastAt:     v.CastAt.UTC(),
		})
	}
	if err := survivorGate(source, "votes", len(votes), len(raw), minShare); err != nil {
		return nil, warnings, err
	}
	return votes, warnings, nil
}

// Delegations validates delegation records: no self-loops, at most one
// active delegatee per delegator (the latest wins).
func Delegations(source string, raw []providers.RawDelegation, scale uint64, minShare float64) ([]types.Delegation, []string, error) {
	var warnings []string
	latest := make(map[string]types.Delegation, len(raw))
	kept := 0
	for _, d := range raw {
		switch {
		case d.Delegator == "" || d.Delegatee == "":
			warnings = appendWarning(warnings, source, "delegation with empty endpoint dropped")
			continue
		case d.Delegator == d.Delegatee:
			warnings = appendWarning(warnings, source, "self-delegation by %s dropped", d.Delegator)
			continue
		case !d.Full && isNegative(d.Amount):
			warnings = appendWarning(warnings, source, "delegation by %s has negative amount", d.Delegator)
			continue
		}
		kept++
		candidate := types.Delegation{
			Delegator: d.Delegator,
			Delegatee: d.Delegatee,
			Since:     d.Since.UTC(),
			Amount:    Apply(d.Amount, scale),
			Full:      d.Full,
		}
		if current, ok := latest[d.Delegator]; !ok || candidate.Since.After(current.Since) {
			latest[d.Delegator] = candidate
		}
	}
	if err := survivorGate(source, "delegations", kept, len(raw), minShare); err != nil {
		return nil, warnings, err
	}
	delegations := make([]types.Delegation, 0, len(latest))
	for _, d := range latest {
		delegations = append(delegations, d)
	}
	sort.Slice(delegations, func(i, j int) bool {
		return delegations[i].Delegator < delegations[j].Delegator
	})
	return delegations, warnings, nil
}

// CheckSnapshot verifies the cross-set invariants of an assembled snapshot.
// Violations are internal errors: the pipeline produced them, not a source.
func CheckSnapshot(s *types.Snapshot) error {
	var total uint64
	for _, h := range s.Holders {
		total += h.Balance
	}
	if s.Protocol.TotalSupply > 0 && total > s.Protocol.TotalSupply {
		return types.Errorf(types.KindInternal, "",
			"holder balances %d exceed supply %d", total, s.Protocol.TotalSupply)
	}
	for i, h := range s.Holders {
		if h.Rank != i+1 {
			return types.Errorf(types.KindInternal, "", "holder ranks not contiguous at %d", i)
		}
	}
	return nil
}

func mapStatus(s string) (types.ProposalStatus, bool) {
	status := types.ProposalStatus(lower(s))
	if status.Valid() {
		return status, true
	}
	// Compound-style subgraphs capitalize and use QUEUED for the
	// executed-pending window.
	switch lower(s) {
	case "queued":
		return types.StatusSucceeded, true
	}
	return "", false
}

func mapChoice(s string) (types.VoteChoice, bool) {
	switch lower(s) {
	case "for", "1", "true":
		return types.ChoiceFor, true
	case "against", "0", "false":
		return types.ChoiceAgainst, true
	case "abstain", "2":
		return types.ChoiceAbstain, true
	}
	return "", false
}

func isNegative(v *big.Int) bool {
	return v != nil && v.Sign() < 0
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// appendWarning records a drop with enough context to reproduce and logs it
// as a structured event.
func appendWarning(warnings []string, source, format string, args ...interface{}) []string {
	msg := fmt.Sprintf(format, args...)
	log.WithFields(logrus.Fields{"source": source}).Warn(msg)
	return append(warnings, source+": "+msg)
}
