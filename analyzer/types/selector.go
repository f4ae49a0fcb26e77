package types

import (
	"strconv"
	"strings"
)

// MetricFamily groups selectable metrics.
type MetricFamily string

const (
	FamilyConcentration MetricFamily = "concentration"
	FamilyParticipation MetricFamily = "participation"
	FamilyBlocks        MetricFamily = "blocks"
)

// MetricSelector names a single scalar metric projectable from a snapshot,
// e.g. "concentration.gini", "concentration.top10", "participation.turnout",
// "blocks.count". TopN is set only for the topN variants.
type MetricSelector struct {
	Family MetricFamily `json:"family"`
	Name   string       `json:"name"`
	TopN   int          `json:"top_n,omitempty"`
}

// String renders the selector in its parseable form.
func (m MetricSelector) String() string {
	return string(m.Family) + "." + m.Name
}

// ParseMetricSelector parses a dotted selector. Unknown selectors fail with
// a Validation error.
func ParseMetricSelector(s string) (MetricSelector, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), ".", 2)
	if len(parts) != 2 {
		return MetricSelector{}, Errorf(KindValidation, "", "metric selector %q is not of the form family.name", s)
	}
	sel := MetricSelector{Family: MetricFamily(parts[0]), Name: parts[1]}
	switch sel.Family {
	case FamilyConcentration:
		if strings.HasPrefix(sel.Name, "top") {
			n, err := strconv.Atoi(strings.TrimPrefix(sel.Name, "top"))
			if err != nil || n <= 0 {
				return MetricSelector{}, Errorf(KindValidation, "", "bad top-N selector %q", s)
			}
			sel.TopN = n
			return sel, nil
		}
		switch sel.Name {
		case "gini", "hhi", "nakamoto", "palma", "hoover", "theil", "holders":
			return sel, nil
		}
	case FamilyParticipation:
		switch sel.Name {
		case "turnout", "unique_voters", "whale_agreement", "whale_winning_share":
			return sel, nil
		}
	case FamilyBlocks:
		switch sel.Name {
		case "count", "largest_power", "anomalies":
			return sel, nil
		}
	}
	return MetricSelector{}, Errorf(KindValidation, "", "unknown metric selector %q", s)
}

// Project extracts the selected scalar from a snapshot's metric set. The
// second return is false when the snapshot carries no value for the
// selector (reported as a gap, never interpolated).
func (m MetricSelector) Project(s *Snapshot) (float64, bool) {
	if s == nil || s.Metrics == nil {
		return 0, false
	}
	switch m.Family {
	case FamilyConcentration:
		c := s.Metrics.Concentration
		if c == nil || c.Degenerate {
			return 0, false
		}
		if m.TopN > 0 {
			v, ok := c.TopShares[m.TopN]
			return v, ok
		}
		switch m.Name {
		case "gini":
			return c.Gini, true
		case "hhi":
			return c.HHI, true
		case "nakamoto":
			return float64(c.Nakamoto), true
		case "palma":
			if c.Palma == nil {
				return 0, false
			}
			return *c.Palma, true
		case "hoover":
			return c.Hoover, true
		case "theil":
			return c.Theil, true
		case "holders":
			return float64(c.Holders), true
		}
	case FamilyParticipation:
		p := s.Metrics.Participation
		if p == nil {
			return 0, false
		}
		switch m.Name {
		case "turnout":
			return p.OverallTurnout, true
		case "unique_voters":
			return float64(p.UniqueVoters), true
		case "whale_agreement":
			return p.Whales.AgreementRate, true
		case "whale_winning_share":
			return p.Whales.WinningSideShare, true
		}
	case FamilyBlocks:
		b := s.Metrics.VotingBlocks
		if b == nil {
			return 0, false
		}
		switch m.Name {
		case "count":
			return float64(len(b.Blocks)), true
		case "largest_power":
			if len(b.Blocks) == 0 {
				return 0, true
			}
			return float64(b.Blocks[0].Power), true
		case "anomalies":
			return float64(len(b.Anomalies)), true
		}
	}
	return 0, false
}
