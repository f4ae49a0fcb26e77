// Package providers implements the adapters that pull raw holder, proposal,
// vote and delegation data from external sources. One adapter per source;
// every operation takes a caller-supplied deadline through its context and
// fails with a typed error from the closed taxonomy.
package providers

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

var log = logrus.WithField("prefix", "providers")

// RawHolder is an unnormalized holder record. Balances stay big integers
// until the normalizer applies the uniform scale.
type RawHolder struct {
	Address string
	Balance *big.Int
}

// HolderPage is one page of holder records. An empty NextCursor ends
// pagination.
type HolderPage struct {
	Holders    []RawHolder
	NextCursor string
	// Supply is the token total supply when the source reports it
	// alongside holders; nil otherwise.
	Supply *big.Int
}

// RawProposal is an unnormalized proposal record.
type RawProposal struct {
	ID          string
	Proposer    string
	Created     time.Time
	VotingStart time.Time
	VotingEnd   time.Time
	Status      string
	Quorum      *big.Int
	For         *big.Int
	Against     *big.Int
	Abstain     *big.Int
	Metadata    map[string]string
}

// RawVote is an unnormalized vote record.
type RawVote struct {
	ProposalID string
	Voter      string
	Choice     string
	Power      *big.Int
	CastAt     time.Time
}

// RawDelegation is an unnormalized delegation record.
type RawDelegation struct {
	Delegator string
	Delegatee string
	Since     time.Time
	Amount    *big.Int
	Full      bool
}

// Adapter is the capability interface implemented per external source.
// Operations a source cannot answer fail with a not-supported error so the
// fallback chain advances silently.
type Adapter interface {
	// ID is the stable source identifier used in fallback chains,
	// provenance tags and logs.
	ID() string
	// Tier is the provenance tier of successful responses: live for a
	// credentialed source, fallback-free-tier for keyless operation.
	Tier() types.Provenance
	// Holders fetches one page of (address, balance) pairs at the given
	// snapshot reference time.
	Holders(ctx context.Context, protocol config.Protocol, at time.Time, limit int, cursor string) (*HolderPage, error)
	// Proposals fetches proposals created in [since, until).
	Proposals(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawProposal, error)
	// Votes fetches all votes for one proposal.
	Votes(ctx context.Context, protocol config.Protocol, proposalID string) ([]RawVote, error)
	// Delegations fetches delegation changes in [since, until).
	Delegations(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawDelegation, error)
}

// Registry is the dispatch table keyed by source id. It is owned by the
// Core handle; there is no process-wide registry.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter; a duplicate id is an internal error.
func (r *Registry) Register(a Adapter) error {
	if _, exists := r.adapters[a.ID()]; exists {
		return types.Errorf(types.KindInternal, a.ID(), "adapter %q registered twice", a.ID())
	}
	r.adapters[a.ID()] = a
	return nil
}

// Lookup resolves a source id.
func (r *Registry) Lookup(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered source ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewDefaultRegistry registers the built-in adapters against the given
// configuration and HTTP client. A nil client gets a conservative default.
func NewDefaultRegistry(cfg *config.Config, client *http.Client) (*Registry, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	r := NewRegistry()
	for _, a := range []Adapter{
		NewEtherscan(cfg.APIKeys.Etherscan, client),
		NewTheGraph(cfg.APIKeys.Graph, client),
		NewEthplorer(cfg.APIKeys.Ethplorer, client),
		NewRPCNode(cfg.APIKeys.Alchemy, cfg.APIKeys.Infura, client),
	} {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// getJSON issues a GET under the caller's deadline and decodes the body,
// mapping transport and status failures onto the error taxonomy.
func getJSON(ctx context.Context, client *http.Client, source, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.NewError(types.KindInternal, source, err)
	}
	return doJSON(client, source, req, out)
}

// postJSON issues a POST with a JSON body under the caller's deadline.
func postJSON(ctx context.Context, client *http.Client, source, url string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return types.NewError(types.KindInternal, source, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, source, req, out)
}

func doJSON(client *http.Client, source string, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return types.NewError(types.KindCancelled, source, req.Context().Err())
		}
		return types.NewError(types.KindTransientUnavailable, source, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).WithField("source", source).Debug("Could not close response body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.RateLimitedError(source, retryAfter(resp), errors.New("throttled by source"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Errorf(types.KindAuthMissing, source, "source rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return types.Errorf(types.KindTransientUnavailable, source, "source returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return types.Errorf(types.KindPermanentSchema, source, "unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.KindPermanentSchema, source, err)
	}
	return nil
}

// retryAfter extracts a server-suggested delay, zero when absent.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// parseBig parses a decimal or 0x-hex integer string.
func parseBig(s string) (*big.Int, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}
