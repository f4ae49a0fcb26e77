package providers

import (
	"math/big"
	"sort"
	"time"
)

// zeroAddress is the mint/burn counterparty in transfer events.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// RawTransfer is a single token transfer event.
type RawTransfer struct {
	From   string
	To     string
	Amount *big.Int
	At     time.Time
}

// ReduceTransfers replays transfer events up to the snapshot time and
// reduces them to holder balances, ordered by descending balance with
// lexicographic address tie-break so ranking is deterministic across runs.
// Addresses driven to zero or negative (partial replay windows) are dropped.
func ReduceTransfers(transfers []RawTransfer, until time.Time) []RawHolder {
	balances := make(map[string]*big.Int)
	account := func(addr string) *big.Int {
		cur, ok := balances[addr]
		if !ok {
			cur = new(big.Int)
			balances[addr] = cur
		}
		return cur
	}
	for _, t := range transfers {
		if t.Amount == nil || t.At.After(until) {
			continue
		}
		if t.To != zeroAddress {
			account(t.To).Add(account(t.To), t.Amount)
		}
		if t.From != zeroAddress {
			account(t.From).Sub(account(t.From), t.Amount)
		}
	}

	holders := make([]RawHolder, 0, len(balances))
	for addr, bal := range balances {
		if bal.Sign() <= 0 {
			continue
		}
		holders = append(holders, RawHolder{Address: addr, Balance: bal})
	}
	sort.Slice(holders, func(i, j int) bool {
		cmp := holders[i].Balance.Cmp(holders[j].Balance)
		if cmp != 0 {
			return cmp > 0
		}
		return holders[i].Address < holders[j].Address
	})
	return holders
}
