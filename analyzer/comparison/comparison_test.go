package comparison

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscope/govscope/analyzer/db/mem"
	"github.com/govscope/govscope/analyzer/types"
)

var refTime = time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

func putSnapshot(t *testing.T, store *mem.Store, protocolID string, at time.Time, gini, turnout float64) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), &types.Snapshot{
		SchemaVersion: types.CurrentSchemaVersion,
		Protocol:      types.Protocol{ID: protocolID},
		Timestamp:     at,
		Provenance:    types.ProvenanceLive,
		Scale:         1,
		Metrics: &types.MetricSet{
			Concentration: &types.ConcentrationMetrics{Gini: gini},
			Participation: &types.ParticipationMetrics{OverallTurnout: turnout},
		},
	}))
}

func selectors(t *testing.T, names ...string) []types.MetricSelector {
	t.Helper()
	out := make([]types.MetricSelector, 0, len(names))
	for _, name := range names {
		sel, err := types.ParseMetricSelector(name)
		require.NoError(t, err)
		out = append(out, sel)
	}
	return out
}

func TestCompare_ValuesAndDeltas(t *testing.T) {
	store := mem.NewStore()
	// Two snapshots per protocol inside the skew window; the older one only
	// feeds the delta.
	putSnapshot(t, store, "compound", refTime.Add(-30*time.Hour), 0.50, 0.10)
	putSnapshot(t, store, "compound", refTime.Add(-6*time.Hour), 0.60, 0.12)
	putSnapshot(t, store, "uniswap", refTime.Add(-30*time.Hour), 0.80, 0.05)
	putSnapshot(t, store, "uniswap", refTime.Add(-2*time.Hour), 0.70, 0.04)

	svc := New(store)
	table, err := svc.Compare(context.Background(), []string{"compound", "uniswap"},
		selectors(t, "concentration.gini", "participation.turnout"), refTime, Params{})
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	giniRow := table.Rows[0]
	require.Len(t, giniRow, 2)

	assert.InDelta(t, 0.60, giniRow[0].Value, 1e-9)
	assert.Equal(t, refTime.Add(-6*time.Hour), giniRow[0].Timestamp)
	assert.Equal(t, types.ProvenanceLive, giniRow[0].Provenance)
	require.NotNil(t, giniRow[0].Delta)
	assert.InDelta(t, 0.10, *giniRow[0].Delta, 1e-9)

	assert.InDelta(t, 0.70, giniRow[1].Value, 1e-9)
	require.NotNil(t, giniRow[1].Delta)
	assert.InDelta(t, -0.10, *giniRow[1].Delta, 1e-9)
}

func TestCompare_SkewExcludesStaleSnapshots(t *testing.T) {
	store := mem.NewStore()
	putSnapshot(t, store, "compound", refTime.Add(-6*time.Hour), 0.60, 0.12)
	// Aave's only snapshot is too old to align.
	putSnapshot(t, store, "aave", refTime.Add(-72*time.Hour), 0.30, 0.20)

	svc := New(store)
	table, err := svc.Compare(context.Background(), []string{"compound", "aave"},
		selectors(t, "concentration.gini"), refTime, Params{MaxSkew: 24 * time.Hour})
	require.NoError(t, err)

	row := table.Rows[0]
	assert.False(t, row[0].Missing)
	assert.True(t, row[1].Missing)
}

func TestCompare_MissingMetricIsMissingCell(t *testing.T) {
	store := mem.NewStore()
	putSnapshot(t, store, "compound", refTime.Add(-time.Hour), 0.60, 0.12)
	// Uniswap has a snapshot but no metrics on it.
	require.NoError(t, store.Put(context.Background(), &types.Snapshot{
		SchemaVersion: types.CurrentSchemaVersion,
		Protocol:      types.Protocol{ID: "uniswap"},
		Timestamp:     refTime.Add(-time.Hour),
		Provenance:    types.ProvenanceSimulated,
		Scale:         1,
	}))

	svc := New(store)
	table, err := svc.Compare(context.Background(), []string{"compound", "uniswap"},
		selectors(t, "concentration.gini"), refTime, Params{})
	require.NoError(t, err)

	row := table.Rows[0]
	assert.False(t, row[0].Missing)
	require.True(t, row[1].Missing)
	// The cell still names the snapshot it failed to project from.
	assert.Equal(t, types.ProvenanceSimulated, row[1].Provenance)
}

func TestCompare_FirstSnapshotHasNoDelta(t *testing.T) {
	store := mem.NewStore()
	putSnapshot(t, store, "compound", refTime.Add(-time.Hour), 0.60, 0.12)

	svc := New(store)
	table, err := svc.Compare(context.Background(), []string{"compound"},
		selectors(t, "concentration.gini"), refTime, Params{})
	require.NoError(t, err)
	assert.Nil(t, table.Rows[0][0].Delta)
}

func TestCompare_Ranking(t *testing.T) {
	store := mem.NewStore()
	putSnapshot(t, store, "compound", refTime.Add(-time.Hour), 0.60, 0.12)
	putSnapshot(t, store, "uniswap", refTime.Add(-time.Hour), 0.80, 0.04)
	putSnapshot(t, store, "aave", refTime.Add(-time.Hour), 0.20, 0.30)

	svc := New(store)
	table, err := svc.Compare(context.Background(), []string{"compound", "uniswap", "aave"},
		selectors(t, "concentration.gini", "participation.turnout"), refTime, Params{})
	require.NoError(t, err)

	// Min-max per row: gini normalizes to {compound 2/3, uniswap 1, aave 0},
	// turnout to {compound 8/26, uniswap 0, aave 1}.
	require.Len(t, table.Ranking, 3)
	byID := make(map[string]float64, 3)
	for _, e := range table.Ranking {
		byID[e.ProtocolID] = e.Score
	}
	assert.InDelta(t, 2.0/3.0+8.0/26.0, byID["compound"], 1e-9)
	assert.InDelta(t, 1.0, byID["uniswap"], 1e-9)
	assert.InDelta(t, 1.0, byID["aave"], 1e-9)

	// Equal scores break ties by protocol id, so the order is stable.
	assert.Equal(t, "aave", table.Ranking[0].ProtocolID)
	assert.Equal(t, "uniswap", table.Ranking[1].ProtocolID)
	assert.Equal(t, "compound", table.Ranking[2].ProtocolID)
}

func TestCompare_Weights(t *testing.T) {
	store := mem.NewStore()
	putSnapshot(t, store, "compound", refTime.Add(-time.Hour), 0.60, 0.12)
	putSnapshot(t, store, "uniswap", refTime.Add(-time.Hour), 0.80, 0.04)

	svc := New(store)
	table, err := svc.Compare(context.Background(), []string{"compound", "uniswap"},
		selectors(t, "concentration.gini", "participation.turnout"), refTime,
		Params{Weights: map[string]float64{"concentration.gini": 3}})
	require.NoError(t, err)

	byID := make(map[string]float64, 2)
	for _, e := range table.Ranking {
		byID[e.ProtocolID] = e.Score
	}
	// Two-protocol min-max puts each protocol at 0 or 1 per row.
	assert.InDelta(t, 3.0, byID["uniswap"], 1e-9)
	assert.InDelta(t, 1.0, byID["compound"], 1e-9)
}

func TestCompare_Validation(t *testing.T) {
	svc := New(mem.NewStore())
	_, err := svc.Compare(context.Background(), nil,
		selectors(t, "concentration.gini"), refTime, Params{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = svc.Compare(context.Background(), []string{"compound"}, nil, refTime, Params{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
}
