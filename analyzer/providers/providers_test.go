package providers

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

var testProtocol = config.Protocol{
	ID: "compound", Name: "Compound", Symbol: "COMP", Decimals: 18,
	Contract: "0xc00e94cb662c3520282e6f5717214004a7f26888",
}

func TestReduceTransfers(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	transfers := []RawTransfer{
		{From: zeroAddress, To: "0xa", Amount: big.NewInt(1000), At: t0},
		{From: "0xa", To: "0xb", Amount: big.NewInt(300), At: t0.Add(time.Minute)},
		{From: "0xb", To: "0xc", Amount: big.NewInt(300), At: t0.Add(2 * time.Minute)},
		// After the snapshot time, must not count.
		{From: "0xc", To: "0xa", Amount: big.NewInt(300), At: t0.Add(time.Hour)},
		// Burn.
		{From: "0xc", To: zeroAddress, Amount: big.NewInt(100), At: t0.Add(3 * time.Minute)},
	}
	holders := ReduceTransfers(transfers, t0.Add(10*time.Minute))

	// 0xa 700, 0xc 200; 0xb drained to zero and dropped.
	require.Len(t, holders, 2)
	assert.Equal(t, "0xa", holders[0].Address)
	assert.Equal(t, int64(700), holders[0].Balance.Int64())
	assert.Equal(t, "0xc", holders[1].Address)
	assert.Equal(t, int64(200), holders[1].Balance.Int64())
}

func TestReduceTransfers_DeterministicTieBreak(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	transfers := []RawTransfer{
		{From: zeroAddress, To: "0xb", Amount: big.NewInt(50), At: t0},
		{From: zeroAddress, To: "0xa", Amount: big.NewInt(50), At: t0},
	}
	holders := ReduceTransfers(transfers, t0.Add(time.Minute))
	require.Len(t, holders, 2)
	assert.Equal(t, "0xa", holders[0].Address)
	assert.Equal(t, "0xb", holders[1].Address)
}

func TestEtherscan_HoldersFromTransferReplay(t *testing.T) {
	until := time.Unix(1_700_000_200, 0).UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "tokentx":
			assert.Equal(t, testProtocol.Contract, r.URL.Query().Get("contractaddress"))
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
				{"from":"0x0000000000000000000000000000000000000000","to":"0xA","value":"1000","timeStamp":"1700000000"},
				{"from":"0xA","to":"0xB","value":"300","timeStamp":"1700000100"},
				{"from":"0xB","to":"0xC","value":"100","timeStamp":"1700009999"}
			]}`))
		case "tokensupply":
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":"1000"}`))
		default:
			t.Errorf("unexpected action %q", r.URL.Query().Get("action"))
		}
	}))
	defer server.Close()

	adapter := NewEtherscan("", &http.Client{})
	adapter.SetBaseURL(server.URL)
	assert.Equal(t, types.ProvenanceFallbackFreeTier, adapter.Tier())

	page, err := adapter.Holders(context.Background(), testProtocol, until, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Holders, 2)
	assert.Equal(t, "0xa", page.Holders[0].Address)
	assert.Equal(t, int64(700), page.Holders[0].Balance.Int64())
	assert.Equal(t, int64(300), page.Holders[1].Balance.Int64())
	require.NotNil(t, page.Supply)
	assert.Equal(t, int64(1000), page.Supply.Int64())
}

func TestEtherscan_EnvelopeMapping(t *testing.T) {
	cases := map[string]struct {
		body string
		kind types.ErrorKind
	}{
		"rate limit": {
			body: `{"status":"0","message":"Max rate limit reached","result":[]}`,
			kind: types.KindRateLimited,
		},
		"bad key": {
			body: `{"status":"0","message":"Invalid API Key","result":[]}`,
			kind: types.KindAuthMissing,
		},
		"other": {
			body: `{"status":"0","message":"NOTOK","result":[]}`,
			kind: types.KindTransientUnavailable,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()
			adapter := NewEtherscan("key", &http.Client{})
			adapter.SetBaseURL(server.URL)

			_, err := adapter.Holders(context.Background(), testProtocol, time.Now(), 0, "")
			require.Error(t, err)
			assert.True(t, types.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestEtherscan_NoTransactionsIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "tokensupply" {
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":"0"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer server.Close()
	adapter := NewEtherscan("key", &http.Client{})
	adapter.SetBaseURL(server.URL)

	page, err := adapter.Holders(context.Background(), testProtocol, time.Now(), 0, "")
	require.NoError(t, err)
	assert.Empty(t, page.Holders)
}

func TestEtherscan_GovernanceNotSupported(t *testing.T) {
	adapter := NewEtherscan("key", &http.Client{})
	ctx := context.Background()
	_, err := adapter.Proposals(ctx, testProtocol, time.Time{}, time.Now())
	assert.True(t, types.IsKind(err, types.KindNotSupported))
	_, err = adapter.Votes(ctx, testProtocol, "1")
	assert.True(t, types.IsKind(err, types.KindNotSupported))
	_, err = adapter.Delegations(ctx, testProtocol, time.Time{}, time.Now())
	assert.True(t, types.IsKind(err, types.KindNotSupported))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[string]struct {
		status     int
		retryAfter string
		kind       types.ErrorKind
	}{
		"throttled":    {status: http.StatusTooManyRequests, retryAfter: "2", kind: types.KindRateLimited},
		"unauthorized": {status: http.StatusUnauthorized, kind: types.KindAuthMissing},
		"forbidden":    {status: http.StatusForbidden, kind: types.KindAuthMissing},
		"server error": {status: http.StatusBadGateway, kind: types.KindTransientUnavailable},
		"not found":    {status: http.StatusNotFound, kind: types.KindPermanentSchema},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			var out struct{}
			err := getJSON(context.Background(), &http.Client{}, "test", server.URL, &out)
			require.Error(t, err)
			assert.True(t, types.IsKind(err, tc.kind), "got %v", err)
			if tc.retryAfter != "" {
				var typed *types.Error
				require.True(t, errors.As(err, &typed))
				assert.Equal(t, 2*time.Second, typed.RetryAfter)
			}
		})
	}
}

func TestEthplorer_Holders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, testProtocol.Contract)
		assert.Equal(t, "freekey", r.URL.Query().Get("apiKey"))
		_, _ = w.Write([]byte(`{"holders":[
			{"address":"0xAAA","balance":1000},
			{"address":"0xbbb","balance":2.5e21}
		]}`))
	}))
	defer server.Close()
	adapter := NewEthplorer("", &http.Client{})
	adapter.SetBaseURL(server.URL)

	page, err := adapter.Holders(context.Background(), testProtocol, time.Now(), 0, "")
	require.NoError(t, err)
	require.Len(t, page.Holders, 2)
	assert.Equal(t, "0xaaa", page.Holders[0].Address)
	assert.Equal(t, int64(1000), page.Holders[0].Balance.Int64())

	want, ok := new(big.Int).SetString("2500000000000000000000", 10)
	require.True(t, ok)
	assert.Zero(t, want.Cmp(page.Holders[1].Balance))
}

func TestEthplorer_RefusesHistoricalReference(t *testing.T) {
	adapter := NewEthplorer("key", &http.Client{})
	_, err := adapter.Holders(context.Background(), testProtocol, time.Now().Add(-48*time.Hour), 0, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNotSupported))
}

func TestEthplorer_ErrorMapping(t *testing.T) {
	cases := map[string]struct {
		body string
		kind types.ErrorKind
	}{
		"rate code": {
			body: `{"error":{"code":133,"message":"too many requests"}}`,
			kind: types.KindRateLimited,
		},
		"bad key": {
			body: `{"error":{"code":1,"message":"invalid api key"}}`,
			kind: types.KindAuthMissing,
		},
		"other": {
			body: `{"error":{"code":3,"message":"internal error"}}`,
			kind: types.KindTransientUnavailable,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()
			adapter := NewEthplorer("key", &http.Client{})
			adapter.SetBaseURL(server.URL)

			_, err := adapter.Holders(context.Background(), testProtocol, time.Now(), 0, "")
			require.Error(t, err)
			assert.True(t, types.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestTheGraph_Proposals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "compound")
		_, _ = w.Write([]byte(`{"data":{"proposals":[{
			"id":"42",
			"proposer":{"id":"0xdead"},
			"creationTime":1700000000,
			"startTime":1700010000,
			"endTime":1700020000,
			"status":"EXECUTED",
			"quorumVotes":"400000",
			"forVotes":"650000",
			"againstVotes":"100000",
			"abstainVotes":"",
			"description":"Update interest rate model"
		}]}}`))
	}))
	defer server.Close()
	adapter := NewTheGraph("", &http.Client{})
	adapter.SetBaseURL(server.URL)

	proposals, err := adapter.Proposals(context.Background(), testProtocol,
		time.Unix(1_690_000_000, 0), time.Unix(1_710_000_000, 0))
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "0xdead", p.Proposer)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), p.Created)
	assert.Equal(t, time.Unix(1_700_010_000, 0).UTC(), p.VotingStart)
	assert.Equal(t, time.Unix(1_700_020_000, 0).UTC(), p.VotingEnd)
	assert.Equal(t, "EXECUTED", p.Status)
	assert.Equal(t, int64(650000), p.For.Int64())
	// Empty tallies parse as zero.
	assert.Equal(t, int64(0), p.Abstain.Int64())
	assert.Equal(t, "Update interest rate model", p.Metadata["description"])
}

func TestTheGraph_Votes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"votes":[{
			"proposal":{"id":"42"},
			"voter":{"id":"0xa"},
			"choice":"FOR",
			"weight":"1234",
			"timestamp":1700015000
		}]}}`))
	}))
	defer server.Close()
	adapter := NewTheGraph("", &http.Client{})
	adapter.SetBaseURL(server.URL)

	votes, err := adapter.Votes(context.Background(), testProtocol, "42")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "42", votes[0].ProposalID)
	assert.Equal(t, "0xa", votes[0].Voter)
	assert.Equal(t, "FOR", votes[0].Choice)
	assert.Equal(t, int64(1234), votes[0].Power.Int64())
}

func TestTheGraph_DelegationsFullWhenAmountAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"delegationEvents":[
			{"delegator":{"id":"0xa"},"delegatee":{"id":"0xb"},"amount":"","timestamp":1700000000},
			{"delegator":{"id":"0xc"},"delegatee":{"id":"0xb"},"amount":"500","timestamp":1700000100}
		]}}`))
	}))
	defer server.Close()
	adapter := NewTheGraph("", &http.Client{})
	adapter.SetBaseURL(server.URL)

	delegations, err := adapter.Delegations(context.Background(), testProtocol,
		time.Unix(1_690_000_000, 0), time.Unix(1_710_000_000, 0))
	require.NoError(t, err)
	require.Len(t, delegations, 2)
	assert.True(t, delegations[0].Full)
	assert.False(t, delegations[1].Full)
	assert.Equal(t, int64(500), delegations[1].Amount.Int64())
}

func TestTheGraph_SubgraphErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexing error"}]}`))
	}))
	defer server.Close()
	adapter := NewTheGraph("", &http.Client{})
	adapter.SetBaseURL(server.URL)

	_, err := adapter.Proposals(context.Background(), testProtocol, time.Time{}, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTransientUnavailable))
}

func TestTheGraph_UnknownProtocol(t *testing.T) {
	adapter := NewTheGraph("", &http.Client{})
	_, err := adapter.Proposals(context.Background(), config.Protocol{ID: "sushi"}, time.Time{}, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNotSupported))
}

func TestRPCNode_HoldersFromLogs(t *testing.T) {
	pad := func(addr string) string {
		return "0x000000000000000000000000" + addr
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[
			{"topics":["` + transferTopic + `","` + pad("0000000000000000000000000000000000000000") + `","` + pad("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") + `"],"data":"0x3e8"},
			{"topics":["` + transferTopic + `","` + pad("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") + `","` + pad("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb") + `"],"data":"0x12c"}
		]}`))
	}))
	defer server.Close()

	adapter := NewRPCNode("key", "", &http.Client{})
	adapter.SetEndpoint(server.URL)
	adapter.SetHeadBlock(50)

	page, err := adapter.Holders(context.Background(), testProtocol, time.Now(), 0, "")
	require.NoError(t, err)
	require.Len(t, page.Holders, 2)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", page.Holders[0].Address)
	assert.Equal(t, int64(700), page.Holders[0].Balance.Int64())
	assert.Equal(t, int64(300), page.Holders[1].Balance.Int64())
}

func TestRPCNode_NoCredentialIsAuthMissing(t *testing.T) {
	adapter := NewRPCNode("", "", &http.Client{})
	_, err := adapter.Holders(context.Background(), testProtocol, time.Now(), 0, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAuthMissing))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	adapter := NewEtherscan("", &http.Client{})
	require.NoError(t, r.Register(adapter))

	err := r.Register(adapter)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInternal))

	got, ok := r.Lookup(config.SourceEtherscan)
	require.True(t, ok)
	assert.Equal(t, adapter.ID(), got.ID())
	_, ok = r.Lookup("ghost")
	assert.False(t, ok)
}

func TestParseBig(t *testing.T) {
	v, ok := parseBig("12345")
	require.True(t, ok)
	assert.Equal(t, int64(12345), v.Int64())

	v, ok = parseBig("0xff")
	require.True(t, ok)
	assert.Equal(t, int64(255), v.Int64())

	_, ok = parseBig("not-a-number")
	assert.False(t, ok)
}
