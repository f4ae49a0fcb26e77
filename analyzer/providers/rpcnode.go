package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// rpcLogWindow is the block span requested per eth_getLogs call.
const rpcLogWindow = 100_000

// avgBlockSeconds approximates mainnet block time for time→block mapping.
const avgBlockSeconds = 12

// RPCNode reconstructs holder balances by replaying ERC-20 Transfer logs
// through a JSON-RPC endpoint (Alchemy preferred, Infura otherwise). It
// needs a credentialed endpoint: without a key every call is auth-missing
// and the fallback chain moves on.
type RPCNode struct {
	endpoint string
	client   *http.Client
	// latestBlock pins the chain head for tests; zero queries the node.
	latestBlock uint64
}

// NewRPCNode builds the adapter, preferring Alchemy over Infura as the
// original deployment did.
func NewRPCNode(alchemyKey, infuraKey string, client *http.Client) *RPCNode {
	n := &RPCNode{client: client}
	switch {
	case alchemyKey != "":
		n.endpoint = "https://eth-mainnet.g.alchemy.com/v2/" + alchemyKey
	case infuraKey != "":
		n.endpoint = "https://mainnet.infura.io/v3/" + infuraKey
	}
	return n
}

// ID implements Adapter.
func (n *RPCNode) ID() string { return config.SourceRPCNode }

// Tier implements Adapter.
func (n *RPCNode) Tier() types.Provenance { return types.ProvenanceLive }

// SetEndpoint redirects the adapter at a test server.
func (n *RPCNode) SetEndpoint(u string) { n.endpoint = u }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (n *RPCNode) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if n.endpoint == "" {
		return types.Errorf(types.KindAuthMissing, n.ID(), "no alchemy or infura credential configured")
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return types.NewError(types.KindInternal, n.ID(), err)
	}
	var resp rpcResponse
	if err := postJSON(ctx, n.client, n.ID(), n.endpoint, bytes.NewReader(body), &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		msg := strings.ToLower(resp.Error.Message)
		if strings.Contains(msg, "rate") || resp.Error.Code == 429 {
			return types.RateLimitedError(n.ID(), 0, fmt.Errorf("rpc: %s", resp.Error.Message))
		}
		return types.Errorf(types.KindTransientUnavailable, n.ID(), "rpc: %s", resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return types.NewError(types.KindPermanentSchema, n.ID(), err)
	}
	return nil
}

type rpcLog struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

// Holders replays Transfer logs from the event floor to the block nearest
// the reference time. Windowed eth_getLogs keeps individual requests inside
// provider response limits.
func (n *RPCNode) Holders(ctx context.Context, protocol config.Protocol, at time.Time, limit int, cursor string) (*HolderPage, error) {
	head, err := n.headBlock(ctx)
	if err != nil {
		return nil, err
	}
	// Map the reference time to a block by average block time; exact
	// archival mapping is not required for distribution analysis.
	behind := uint64(time.Since(at).Seconds()) / avgBlockSeconds
	target := head
	if behind < head {
		target = head - behind
	}

	transfers := make([]RawTransfer, 0)
	var from uint64
	for from <= target {
		if err := ctx.Err(); err != nil {
			return nil, types.NewError(types.KindCancelled, n.ID(), err)
		}
		to := from + rpcLogWindow - 1
		if to > target {
			to = target
		}
		var logs []rpcLog
		params := []interface{}{map[string]interface{}{
			"fromBlock": hexUint(from),
			"toBlock":   hexUint(to),
			"address":   protocol.Contract,
			"topics":    []string{transferTopic},
		}}
		if err := n.call(ctx, "eth_getLogs", params, &logs); err != nil {
			return nil, err
		}
		for _, entry := range logs {
			transfer, err := decodeTransfer(entry, at)
			if err != nil {
				return nil, types.NewError(types.KindPermanentSchema, n.ID(), err)
			}
			transfers = append(transfers, transfer)
		}
		from = to + 1
	}

	holders := ReduceTransfers(transfers, at)
	if limit > 0 && len(holders) > limit {
		holders = holders[:limit]
	}
	return &HolderPage{Holders: holders}, nil
}

func (n *RPCNode) headBlock(ctx context.Context) (uint64, error) {
	if n.latestBlock > 0 {
		return n.latestBlock, nil
	}
	var hexHead string
	if err := n.call(ctx, "eth_blockNumber", nil, &hexHead); err != nil {
		return 0, err
	}
	head, ok := parseBig(hexHead)
	if !ok {
		return 0, types.Errorf(types.KindPermanentSchema, n.ID(), "bad block number %q", hexHead)
	}
	return head.Uint64(), nil
}

// SetHeadBlock pins the head block, for tests.
func (n *RPCNode) SetHeadBlock(b uint64) { n.latestBlock = b }

// decodeTransfer unpacks an ERC-20 Transfer log: topics carry the indexed
// from/to addresses, data carries the amount.
func decodeTransfer(entry rpcLog, at time.Time) (RawTransfer, error) {
	if len(entry.Topics) < 3 {
		return RawTransfer{}, fmt.Errorf("transfer log with %d topics", len(entry.Topics))
	}
	amount, ok := parseBig(entry.Data)
	if !ok {
		return RawTransfer{}, fmt.Errorf("bad transfer amount %q", entry.Data)
	}
	return RawTransfer{
		From:   topicAddress(entry.Topics[1]),
		To:     topicAddress(entry.Topics[2]),
		Amount: amount,
		At:     at,
	}, nil
}

// topicAddress converts a 32-byte topic to a 20-byte address string.
func topicAddress(topic string) string {
	t := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(t) > 40 {
		t = t[len(t)-40:]
	}
	return "0x" + t
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

// Proposals implements Adapter. Raw JSON-RPC carries no decoded governance
// index.
func (n *RPCNode) Proposals(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawProposal, error) {
	return nil, types.Errorf(types.KindNotSupported, n.ID(), "proposals not available")
}

// Votes implements Adapter.
func (n *RPCNode) Votes(ctx context.Context, protocol config.Protocol, proposalID string) ([]RawVote, error) {
	return nil, types.Errorf(types.KindNotSupported, n.ID(), "votes not available")
}

// Delegations implements Adapter.
func (n *RPCNode) Delegations(ctx context.Context, protocol config.Protocol, since, until time.Time) ([]RawDelegation, error) {
	return nil, types.Errorf(types.KindNotSupported, n.ID(), "delegations not available")
}
