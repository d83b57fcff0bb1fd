package featurestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
)

type fakeGateway struct {
	viewerAggs map[string]domain.ViewerAggregates
	itemAggs   map[string]domain.ItemAggregates
	calls      int
}

func (f *fakeGateway) AppendBatch(ctx domain.Context, events []domain.BehaviorEvent) error {
	return nil
}

func (f *fakeGateway) ViewerAggregates(ctx domain.Context, ids []string, windowDays, minInteractions int) (map[string]domain.ViewerAggregates, error) {
	f.calls++
	out := map[string]domain.ViewerAggregates{}
	for _, id := range ids {
		if agg, ok := f.viewerAggs[id]; ok {
			out[id] = agg
		}
	}
	return out, nil
}

func (f *fakeGateway) ItemAggregates(ctx domain.Context, ids []string, windowDays, minInteractions int) (map[string]domain.ItemAggregates, error) {
	f.calls++
	out := map[string]domain.ItemAggregates{}
	for _, id := range ids {
		if agg, ok := f.itemAggs[id]; ok {
			out[id] = agg
		}
	}
	return out, nil
}

func (f *fakeGateway) InteractionMatrix(ctx domain.Context, viewerIDs, itemIDs []string, windowDays int) (map[string]map[string]float64, error) {
	return nil, nil
}

func (f *fakeGateway) Trending(ctx domain.Context, kind domain.ItemKind, windowHours, minInteractions, limit int) ([]domain.TrendingEntry, error) {
	return nil, nil
}

func (f *fakeGateway) ViewerPatterns(ctx domain.Context, viewerID string) (domain.ViewerPatterns, error) {
	return domain.ViewerPatterns{}, nil
}

func newTestStore(t *testing.T) (*Store, *fakeGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := &fakeGateway{
		viewerAggs: map[string]domain.ViewerAggregates{},
		itemAggs:   map[string]domain.ItemAggregates{},
	}
	cfg := config.Config{
		L1Capacity:      1024,
		L1Stripes:       16,
		ViewerTTL:       time.Hour,
		ItemTTL:         2 * time.Hour,
		ViewerWindowDays: 30,
		ItemWindowDays:  7,
		MinInteractions: 5,
	}
	st, err := NewStore(cfg, gw, rdb)
	require.NoError(t, err)
	return st, gw, mr
}

func TestGetViewerBatch_ComputesOnMiss(t *testing.T) {
	st, gw, _ := newTestStore(t)
	gw.viewerAggs["v1"] = domain.ViewerAggregates{ViewerID: "v1", BehaviorScore: 4, LastActive: time.Now()}

	out, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)
	require.Contains(t, out, "v1")
	assert.Equal(t, 4.0, out["v1"].BehaviorScore)
	assert.Equal(t, domain.ActivityMedium, out["v1"].Activity)
}

func TestGetViewerBatch_L1ShortCircuits(t *testing.T) {
	st, gw, mr := newTestStore(t)
	gw.viewerAggs["v1"] = domain.ViewerAggregates{ViewerID: "v1", BehaviorScore: 1}

	_, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)
	require.Equal(t, 1, gw.calls)

	mr.FlushAll() // L2 wiped, but L1 still holds the entry

	out, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.calls, "L1 hit must not re-trigger compute")
	assert.Contains(t, out, "v1")
}

func TestPatchViewerOnIngest_MergesOnNextLoad(t *testing.T) {
	st, gw, _ := newTestStore(t)
	gw.viewerAggs["v1"] = domain.ViewerAggregates{ViewerID: "v1", BehaviorScore: 2}

	_, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)

	require.NoError(t, st.PatchViewerOnIngest(context.Background(), "v1", domain.ActionLike, time.Now()))

	out, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)
	// delta = 0.1 * weight(like=3) = 0.3, applied on top of the base 2.0 loaded from L2.
	assert.InDelta(t, 2.3, out["v1"].BehaviorScore, 0.001)
}

func TestPutViewerBatch_ClearsPendingPatch(t *testing.T) {
	st, gw, _ := newTestStore(t)
	gw.viewerAggs["v1"] = domain.ViewerAggregates{ViewerID: "v1", BehaviorScore: 1}

	_, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)
	require.NoError(t, st.PatchViewerOnIngest(context.Background(), "v1", domain.ActionBuy, time.Now()))

	full := domain.ViewerFeatures{ViewerID: "v1", BehaviorScore: 5, Activity: domain.ActivityHigh}
	require.NoError(t, st.PutViewerBatch(context.Background(), map[string]domain.ViewerFeatures{"v1": full}))

	st.InvalidateViewer("v1")
	out, err := st.GetViewerBatch(context.Background(), []string{"v1"})
	require.NoError(t, err)
	assert.Equal(t, 5.0, out["v1"].BehaviorScore, "fresh full write must supersede the stale patch")
}

func TestGetItemBatch_ComputesOnMiss(t *testing.T) {
	st, gw, _ := newTestStore(t)
	gw.itemAggs["i1"] = domain.ItemAggregates{ItemID: "i1", PopularityScore: 3, EngagementRate: 0.5}

	out, err := st.GetItemBatch(context.Background(), []string{"i1"})
	require.NoError(t, err)
	require.Contains(t, out, "i1")
	assert.Equal(t, 3.0, out["i1"].PopularityScore)
	assert.Equal(t, 5.0, out["i1"].QualityScore)
}

func TestStats_ReportsL2Reachability(t *testing.T) {
	st, _, _ := newTestStore(t)
	stats := st.Stats()
	assert.True(t, stats.L2Reachable)
}
