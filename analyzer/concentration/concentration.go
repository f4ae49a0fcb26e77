// Package concentration computes holder concentration measures over a
// balance distribution. Every function is pure and total: degenerate inputs
// (empty set, zero total) yield sentinel values and the Degenerate flag,
// never an error.
package concentration

import (
	"math"
	"sort"

	"github.com/govscope/govscope/analyzer/types"
)

// LorenzResolution is the number of sampled Lorenz curve points.
const LorenzResolution = 20

// topNSizes are the reported top-N share cutoffs.
var topNSizes = []int{5, 10, 20, 50}

// Compute derives the full concentration metric set from holder balances.
// The input slice is not modified.
func Compute(balances []uint64) *types.ConcentrationMetrics {
	total := sum(balances)
	m := &types.ConcentrationMetrics{
		Holders:   len(balances),
		Total:     total,
		TopShares: make(map[int]float64, len(topNSizes)),
	}
	if len(balances) == 0 || total == 0 {
		m.Degenerate = true
		m.Lorenz = []types.LorenzPoint{}
		return m
	}

	asc := make([]uint64, len(balances))
	copy(asc, balances)
	sort.Slice(asc, func(i, j int) bool { return asc[i] < asc[j] })

	m.Gini = Gini(asc, total)
	m.HHI = HHI(asc, total)
	m.Nakamoto = Nakamoto(asc, total)
	m.Palma = Palma(asc, total)
	m.Hoover = Hoover(asc, total)
	m.Theil = Theil(asc, total)
	for _, n := range topNSizes {
		m.TopShares[n] = TopNShare(asc, total, n)
	}
	m.Lorenz = LorenzPoints(asc, total, LorenzResolution)
	return m
}

// Gini computes the Gini coefficient over balances sorted ascending:
// G = (2*Σ i*b_i)/(n*T) - (n+1)/n, clamped to [0,1]. Returns 0 for n <= 1.
func Gini(asc []uint64, total uint64) float64 {
	n := len(asc)
	if n <= 1 || total == 0 {
		return 0
	}
	var weighted float64
	for i, b := range asc {
		weighted += float64(i+1) * float64(b)
	}
	g := (2*weighted)/(float64(n)*float64(total)) - float64(n+1)/float64(n)
	return math.Max(0, math.Min(1, g))
}

// HHI computes the Herfindahl-Hirschman index, scaled to [0,10000].
func HHI(asc []uint64, total uint64) float64 {
	if len(asc) == 0 || total == 0 {
		return 0
	}
	var hhi float64
	t := float64(total)
	for _, b := range asc {
		share := float64(b) / t
		hhi += share * share
	}
	return hhi * 10000
}

// Nakamoto computes the smallest k such that the top k holders together
// exceed half the total. Returns 0 only for degenerate input.
func Nakamoto(asc []uint64, total uint64) int {
	if len(asc) == 0 || total == 0 {
		return 0
	}
	half := total / 2
	var acc uint64
	for i := len(asc) - 1; i >= 0; i-- {
		acc += asc[i]
		if acc > half {
			return len(asc) - i
		}
	}
	return len(asc)
}

// Palma computes the ratio of the top-10% share to the bottom-40% share.
// Nil when the top decile is empty (fewer than 10 holders) or the bottom-40%
// share is zero.
func Palma(asc []uint64, total uint64) *float64 {
	n := len(asc)
	if n == 0 || total == 0 {
		return nil
	}
	topCount := n / 10
	bottomCount := 2 * n / 5
	if topCount == 0 || bottomCount == 0 {
		return nil
	}
	var top, bottom uint64
	for _, b := range asc[n-topCount:] {
		top += b
	}
	for _, b := range asc[:bottomCount] {
		bottom += b
	}
	if bottom == 0 {
		return nil
	}
	r := float64(top) / float64(bottom)
	return &r
}

// TopNShare computes the wealth share of the top n holders. Returns 1 when
// n covers the whole set.
func TopNShare(asc []uint64, total uint64, n int) float64 {
	if len(asc) == 0 || total == 0 {
		return 0
	}
	if n >= len(asc) {
		return 1
	}
	var top uint64
	for _, b := range asc[len(asc)-n:] {
		top += b
	}
	return float64(top) / float64(total)
}

// Hoover computes the Hoover (Robin Hood) index: the share of wealth that
// would have to move to reach perfect equality.
func Hoover(asc []uint64, total uint64) float64 {
	n := len(asc)
	if n == 0 || total == 0 {
		return 0
	}
	mean := float64(total) / float64(n)
	var dev float64
	for _, b := range asc {
		dev += math.Abs(float64(b) - mean)
	}
	return dev / (2 * float64(total))
}

// Theil computes the Theil T entropy index. Zero-balance holders contribute
// nothing (lim x→0 of x·ln x is 0).
func Theil(asc []uint64, total uint64) float64 {
	n := len(asc)
	if n == 0 || total == 0 {
		return 0
	}
	mean := float64(total) / float64(n)
	var t float64
	for _, b := range asc {
		if b == 0 {
			continue
		}
		r := float64(b) / mean
		t += r * math.Log(r)
	}
	return t / float64(n)
}

// LorenzPoints samples the Lorenz curve at the given resolution over
// balances sorted ascending. The final point is always (1,1).
func LorenzPoints(asc []uint64, total uint64, resolution int) []types.LorenzPoint {
	if len(asc) == 0 || total == 0 || resolution <= 0 {
		return []types.LorenzPoint{}
	}
	cum := make([]uint64, len(asc))
	var acc uint64
	for i, b := range asc {
		acc += b
		cum[i] = acc
	}
	points := make([]types.LorenzPoint, 0, resolution)
	for step := 1; step <= resolution; step++ {
		idx := len(asc)*step/resolution - 1
		if idx < 0 {
			idx = 0
		}
		points = append(points, types.LorenzPoint{
			Population: float64(idx+1) / float64(len(asc)),
			Wealth:     float64(cum[idx]) / float64(total),
		})
	}
	return points
}

func sum(balances []uint64) uint64 {
	var t uint64
	for _, b := range balances {
		t += b
	}
	return t
}
