package providers

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

const (
	ethplorerBaseURL = "https://api.ethplorer.io"
	// ethplorerFreeKey is Ethplorer's published keyless tier.
	ethplorerFreeKey    = "freekey"
	ethplorerMaxHolders = 1000
)

// Ethplorer serves a precomputed top-holder index, which makes it the
// preferred first hop for holder sets: one call, no transfer replay.
type Ethplorer struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewEthplorer builds the adapter; an empty key falls back to the free tier.
func NewEthplorer(apiKey string, client *http.Client) *Ethplorer {
	return &Ethplorer{apiKey: apiKey, baseURL: ethplorerBaseURL, client: client}
}

// ID implements Adapter.
func (e *Ethplorer) ID() string { return config.SourceEthplorer }

// Tier implements Adapter.
func (e *Ethplorer) Tier() types.Provenance {
	if e.apiKey == "" {
		return types.ProvenanceFallbackFreeTier
	}
	return types.ProvenanceLive
}

// SetBaseURL redirects the adapter at a test server.
func (e *Ethplorer) SetBaseURL(u string) { e.baseURL = u }

type ethplorerHolder struct {
	Address string      `json:"address"`
	Balance json.Number `json:"balance"`
}

type ethplorerHoldersResponse struct {
	Holders []ethplorerHolder `json:"holders"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Holders fetches the top-holder index. Ethplorer's index reflects current
// state only, so the reference time is informational here; historical
// references fall through to replay-capable sources via NotSupported.
func (e *Ethplorer) Holders(ctx context.Context, protocol config.Protocol, at time.Time, limit int, cursor string) (*HolderPage, error) {
	// The index has no history; refuse clearly-historical references so
	// the fallback chain reaches a replaying source instead of serving
	// stale data silently.
	if time.Since(at) > 24*time.Hour {
		return nil, types.Errorf(types.KindNotSupported, e.ID(), "no historical holder index")
	}
	if limit <= 0 || limit > ethplorerMaxHolders {
		limit = ethplorerMaxHolders
	}
	key := e.apiKey
	if key == "" {
		key = ethplorerFreeKey
	}
	q := url.Values{}
	q.Set("apiKey", key)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := e.baseURL + "/getTopTokenHolders/" + protocol.Contract + "?" + q.Encode()

	var resp ethplorerHoldersResponse
	if err := getJSON(ctx, e.client, e.ID(), endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		msg := strings.ToLower(resp.Error.Message)
		switch {
		case strings.Contains(msg, "rate") || resp.Error.Code == 133:
			return nil, types.RateLimitedError(e.ID(), 0, types.Errorf(types.KindRateLimited, e.ID(), "%s", resp.Error.Message))
		case strings.Contains(msg, "key"):
			return nil, types.Errorf(types.KindAuthMissing, e.ID(), "ethplorer: %s", resp.Error.Message)
		}
		return nil, types.Errorf(types.KindTransientUnavailable, e.ID(), "ethplorer: %s", resp.Error.Message)
	}

	holders := make([]RawHolder, 0, len(resp.Holders))
	for _, h := range resp.Holders {
		balance, err := numberToBig(h.Balance)
		if err != nil {
			return nil, types.Errorf(types.KindPermanentSchema, e.ID(), "bad balance %q for %s", h.Balance.String(), h.Address)
		}
		holders = append(holders, RawHolder{Address: strings.ToLower(h.Address), Balance: balance})
	}
	return &HolderPage{Holders: holders}, nil
}

// numberToBig converts Ethplorer's numeric balances, which may arrive in
// scientific notation, to an integer.
func numberToBig(n json.Number) (*big.Int, error) {
	if v, ok := new(big.Int).SetString(n.String(), 10); ok {
		return v, nil
	}
	f, _, err := big.ParseFloat(n.String(), 10, 256, big.ToNearestEven)
	if err != nil {
		return nil, err
	}
	out, _ := f.Int(nil)
	return out, nil
}

// Proposals implements Adapter. Ethplorer indexes balances only.
func (e *Ethplorer) Proposals(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawProposal, error) {
	return nil, types.Errorf(types.KindNotSupported, e.ID(), "proposals not available")
}

// Votes implements Adapter.
func (e *Ethplorer) Votes(ctx context.Context, protocol config.Protocol, proposalID string) ([]RawVote, error) {
	return nil, types.Errorf(types.KindNotSupported, e.ID(), "votes not available")
}

// Delegations implements Adapter.
func (e *Ethplorer) Delegations(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawDelegation, error) {
	return nil, types.Errorf(types.KindNotSupported, e.ID(), "delegations not available")
}
