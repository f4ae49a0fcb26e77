package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

const graphBaseURL = "https://api.thegraph.com/subgraphs/name"

// governance subgraph slugs per protocol id.
var graphSubgraphs = map[string]string{
	"compound": "graphprotocol/compound-v2-governance",
	"uniswap":  "ianlapham/uniswap-governance",
	"aave":     "aave/governance-v2",
}

// TheGraph queries hosted governance subgraphs for proposals, votes and
// delegations. The hosted service answers keyless queries at a degraded
// tier; a key upgrades the tier and the throttle budget.
type TheGraph struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTheGraph builds the adapter.
func NewTheGraph(apiKey string, client *http.Client) *TheGraph {
	return &TheGraph{apiKey: apiKey, baseURL: graphBaseURL, client: client}
}

// ID implements Adapter.
func (t *TheGraph) ID() string { return config.SourceTheGraph }

// Tier implements Adapter.
func (t *TheGraph) Tier() types.Provenance {
	if t.apiKey == "" {
		return types.ProvenanceFallbackFreeTier
	}
	return types.ProvenanceLive
}

// SetBaseURL redirects the adapter at a test server.
func (t *TheGraph) SetBaseURL(u string) { t.baseURL = u }

type graphRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphError struct {
	Message string `json:"message"`
}

// query executes one GraphQL request against the protocol's subgraph.
func (t *TheGraph) query(ctx context.Context, protocol config.Protocol, query string, variables map[string]interface{}, data interface{}) error {
	slug, ok := graphSubgraphs[protocol.ID]
	if !ok {
		return types.Errorf(types.KindNotSupported, t.ID(), "no subgraph for protocol %q", protocol.ID)
	}
	body, err := json.Marshal(graphRequest{Query: query, Variables: variables})
	if err != nil {
		return types.NewError(types.KindInternal, t.ID(), err)
	}
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphError    `json:"errors"`
	}
	if err := postJSON(ctx, t.client, t.ID(), t.baseURL+"/"+slug, bytes.NewReader(body), &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return types.Errorf(types.KindTransientUnavailable, t.ID(), "subgraph error: %s", resp.Errors[0].Message)
	}
	if resp.Data == nil {
		return types.NewError(types.KindPermanentSchema, t.ID(), errors.New("response without data"))
	}
	if err := json.Unmarshal(resp.Data, data); err != nil {
		return types.NewError(types.KindPermanentSchema, t.ID(), err)
	}
	return nil
}

const proposalsQuery = `query($since: Int!, $until: Int!) {
  proposals(where: {creationTime_gte: $since, creationTime_lt: $until}, first: 1000, orderBy: creationTime) {
    id
    proposer { id }
    creationTime
    startTime
    endTime
    status
    quorumVotes
    forVotes
    againstVotes
    abstainVotes
    description
  }
}`

type graphProposal struct {
	ID           string        `json:"id"`
	Proposer     graphIDObject `json:"proposer"`
	CreationTime int64         `json:"creationTime"`
	StartTime    int64         `json:"startTime"`
	EndTime      int64         `json:"endTime"`
	Status       string        `json:"status"`
	QuorumVotes  string        `json:"quorumVotes"`
	ForVotes     string        `json:"forVotes"`
	AgainstVotes string        `json:"againstVotes"`
	AbstainVotes string        `json:"abstainVotes"`
	Description  string        `json:"description"`
}

type graphIDObject struct {
	ID string `json:"id"`
}

// Proposals implements Adapter.
func (t *TheGraph) Proposals(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawProposal, error) {
	var data struct {
		Proposals []graphProposal `json:"proposals"`
	}
	vars := map[string]interface{}{"since": since.Unix(), "until": until.Unix()}
	if err := t.query(ctx, protocol, proposalsQuery, vars, &data); err != nil {
		return nil, err
	}
	out := make([]RawProposal, 0, len(data.Proposals))
	for _, p := range data.Proposals {
		raw := RawProposal{
			ID:          p.ID,
			Proposer:    p.Proposer.ID,
			Created:     time.Unix(p.CreationTime, 0).UTC(),
			VotingStart: time.Unix(p.StartTime, 0).UTC(),
			VotingEnd:   time.Unix(p.EndTime, 0).UTC(),
			Status:      p.Status,
		}
		var ok bool
		if raw.Quorum, ok = parseBig(nonEmpty(p.QuorumVotes)); !ok {
			return nil, types.Errorf(types.KindPermanentSchema, t.ID(), "bad quorum %q on proposal %s", p.QuorumVotes, p.ID)
		}
		if raw.For, ok = parseBig(nonEmpty(p.ForVotes)); !ok {
			return nil, types.Errorf(types.KindPermanentSchema, t.ID(), "bad forVotes on proposal %s", p.ID)
		}
		if raw.Against, ok = parseBig(nonEmpty(p.AgainstVotes)); !ok {
			return nil, types.Errorf(types.KindPermanentSchema, t.ID(), "bad againstVotes on proposal %s", p.ID)
		}
		if raw.Abstain, ok = parseBig(nonEmpty(p.AbstainVotes)); !ok {
			return nil, types.Errorf(types.KindPermanentSchema, t.ID(), "bad abstainVotes on proposal %s", p.ID)
		}
		if p.Description != "" {
			raw.Metadata = map[string]string{"description": p.Description}
		}
		out = append(out, raw)
	}
	return out, nil
}

const votesQuery = `query($proposal: String!) {
  votes(where: {proposal: $proposal}, first: 1000, orderBy: timestamp) {
    proposal { id }
    voter { id }
    choice
    weight
    timestamp
  }
}`

type graphVote struct {
	Proposal  graphIDObject `json:"proposal"`
	Voter     graphIDObject `json:"voter"`
	Choice    string        `json:"choice"`
	Weight    string        `json:"weight"`
	Timestamp int64         `json:"timestamp"`
}

// Votes implements Adapter.
func (t *TheGraph) Votes(ctx context.Context, protocol config.Protocol, proposalID string) ([]RawVote, error) {
	var data struct {
		Votes []graphVote `json:"votes"`
	}
	vars := map[string]interface{}{"proposal": proposalID}
	if err := t.query(ctx, protocol, votesQuery, vars, &data); err != nil {
		return nil, err
	}
	out := make([]RawVote, 0, len(data.Votes))
	for _, v := range data.Votes {
		power, ok := parseBig(nonEmpty(v.Weight))
		if !ok {
			return nil, types.Errorf(types.KindPermanentSchema, t.ID(), "bad vote weight %q", v.Weight)
		}
		out = append(out, RawVote{
			ProposalID: v.Proposal.ID,
			Voter:      v.Voter.ID,
			Choice:     v.Choice,
			Power:      power,
			CastAt:     time.Unix(v.Timestamp, 0).UTC(),
		})
	}
	return out, nil
}

const delegationsQuery = `query($since: Int!, $until: Int!) {
  delegationEvents(where: {timestamp_gte: $since, timestamp_lt: $until}, first: 1000, orderBy: timestamp) {
    delegator { id }
    delegatee { id }
    amount
    timestamp
  }
}`

type graphDelegation struct {
	Delegator graphIDObject `json:"delegator"`
	Delegatee graphIDObject `json:"delegatee"`
	Amount    string        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

// Delegations implements Adapter.
func (t *TheGraph) Delegations(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawDelegation, error) {
	var data struct {
		DelegationEvents []graphDelegation `json:"delegationEvents"`
	}
	vars := map[string]interface{}{"since": since.Unix(), "until": until.Unix()}
	if err := t.query(ctx, protocol, delegationsQuery, vars, &data); err != nil {
		return nil, err
	}
	out := make([]RawDelegation, 0, len(data.DelegationEvents))
	for _, d := range data.DelegationEvents {
		raw := RawDelegation{
			Delegator: d.Delegator.ID,
			Delegatee: d.Delegatee.ID,
			Since:     time.Unix(d.Timestamp, 0).UTC(),
		}
		if d.Amount == "" {
			raw.Full = true
		} else {
			amount, ok := parseBig(d.Amount)
			if !ok {
				return nil, types.Errorf(types.KindPermanentSchema, t.ID(), "bad delegation amount %q", d.Amount)
			}
			raw.Amount = amount
		}
		out = append(out, raw)
	}
	return out, nil
}

// Holders implements Adapter. Governance subgraphs track delegated power,
// not raw balances; holder sets come from the balance-indexing sources.
func (t *TheGraph) Holders(ctx context.Context, protocol config.Protocol, at time.Time, limit int, cursor string) (*HolderPage, error) {
	return nil, types.Errorf(types.KindNotSupported, t.ID(), "holder index not available")
}

func nonEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
