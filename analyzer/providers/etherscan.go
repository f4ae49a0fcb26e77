package providers

import (
	"context"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

const (
	etherscanBaseURL  = "https://api.etherscan.io/api"
	etherscanPageSize = 1000
	// etherscanMaxPages bounds the transfer replay so a pathological
	// token cannot drive an unbounded crawl.
	etherscanMaxPages = 50
)

// Etherscan pulls token transfer events and total supply from the Etherscan
// API. Etherscan exposes no holder index, so holders are reconstructed by
// replaying transfers up to the snapshot time. Works keyless at the free
// tier with tighter throttling.
type Etherscan struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewEtherscan builds the adapter. An empty api key keeps the adapter
// usable at the free tier.
func NewEtherscan(apiKey string, client *http.Client) *Etherscan {
	return &Etherscan{apiKey: apiKey, baseURL: etherscanBaseURL, client: client}
}

// ID implements Adapter.
func (e *Etherscan) ID() string { return config.SourceEtherscan }

// Tier implements Adapter.
func (e *Etherscan) Tier() types.Provenance {
	if e.apiKey == "" {
		return types.ProvenanceFallbackFreeTier
	}
	return types.ProvenanceLive
}

// SetBaseURL redirects the adapter at a test server.
func (e *Etherscan) SetBaseURL(u string) { e.baseURL = u }

type etherscanEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type etherscanTransfer struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	TimeStamp string `json:"timeStamp"`
}

type etherscanTxResponse struct {
	etherscanEnvelope
	Result []etherscanTransfer `json:"result"`
}

type etherscanSupplyResponse struct {
	etherscanEnvelope
	Result string `json:"result"`
}

// Holders replays token transfers from the event floor to the snapshot time
// and reduces them to ranked balances. The whole replay happens in one call;
// pagination against Etherscan is internal, so NextCursor is always empty.
func (e *Etherscan) Holders(ctx context.Context, protocol config.Protocol, at time.Time, limit int, cursor string) (*HolderPage, error) {
	transfers := make([]RawTransfer, 0, etherscanPageSize)
	for page := 1; page <= etherscanMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, types.NewError(types.KindCancelled, e.ID(), err)
		}
		batch, err := e.transferPage(ctx, protocol, page)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, batch...)
		if len(batch) < etherscanPageSize {
			break
		}
	}
	holders := ReduceTransfers(transfers, at)
	if limit > 0 && len(holders) > limit {
		holders = holders[:limit]
	}
	page := &HolderPage{Holders: holders}
	if supply, err := e.supply(ctx, protocol); err == nil {
		page.Supply = supply
	} else {
		log.WithError(err).WithField("protocol", protocol.ID).Debug("Could not fetch token supply")
	}
	return page, nil
}

func (e *Etherscan) transferPage(ctx context.Context, protocol config.Protocol, page int) ([]RawTransfer, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", protocol.Contract)
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(etherscanPageSize))
	q.Set("sort", "asc")
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}
	var resp etherscanTxResponse
	if err := getJSON(ctx, e.client, e.ID(), e.baseURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if err := e.checkEnvelope(resp.etherscanEnvelope); err != nil {
		return nil, err
	}
	transfers := make([]RawTransfer, 0, len(resp.Result))
	for _, t := range resp.Result {
		amount, ok := parseBig(t.Value)
		if !ok {
			return nil, types.Errorf(types.KindPermanentSchema, e.ID(), "bad transfer value %q", t.Value)
		}
		unix, err := strconv.ParseInt(t.TimeStamp, 10, 64)
		if err != nil {
			return nil, types.Errorf(types.KindPermanentSchema, e.ID(), "bad transfer timestamp %q", t.TimeStamp)
		}
		transfers = append(transfers, RawTransfer{
			From:   strings.ToLower(t.From),
			To:     strings.ToLower(t.To),
			Amount: amount,
			At:     time.Unix(unix, 0).UTC(),
		})
	}
	return transfers, nil
}

func (e *Etherscan) supply(ctx context.Context, protocol config.Protocol) (*big.Int, error) {
	q := url.Values{}
	q.Set("module", "stats")
	q.Set("action", "tokensupply")
	q.Set("contractaddress", protocol.Contract)
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}
	var resp etherscanSupplyResponse
	if err := getJSON(ctx, e.client, e.ID(), e.baseURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if err := e.checkEnvelope(resp.etherscanEnvelope); err != nil {
		return nil, err
	}
	value, ok := parseBig(resp.Result)
	if !ok {
		return nil, types.Errorf(types.KindPermanentSchema, e.ID(), "bad supply %q", resp.Result)
	}
	return value, nil
}

// checkEnvelope maps Etherscan's status-in-body failure convention onto the
// error taxonomy.
func (e *Etherscan) checkEnvelope(env etherscanEnvelope) error {
	if env.Status == "1" {
		return nil
	}
	msg := strings.ToLower(env.Message)
	switch {
	case strings.Contains(msg, "rate limit"):
		return types.RateLimitedError(e.ID(), 0, errors.New(env.Message))
	case strings.Contains(msg, "invalid api key"), strings.Contains(msg, "missing"):
		return types.Errorf(types.KindAuthMissing, e.ID(), "etherscan: %s", env.Message)
	case strings.Contains(msg, "no transactions found"):
		return nil
	}
	return types.Errorf(types.KindTransientUnavailable, e.ID(), "etherscan: %s", env.Message)
}

// Proposals implements Adapter. Etherscan has no governance index.
func (e *Etherscan) Proposals(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawProposal, error) {
	return nil, types.Errorf(types.KindNotSupported, e.ID(), "proposals not available")
}

// Votes implements Adapter.
func (e *Etherscan) Votes(ctx context.Context, protocol config.Protocol, proposalID string) ([]RawVote, error) {
	return nil, types.Errorf(types.KindNotSupported, e.ID(), "votes not available")
}

// Delegations implements Adapter.
func (e *Etherscan) Delegations(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawDelegation, error) {
	return nil, types.Errorf(types.KindNotSupported, e.ID(), "delegations not available")
}
