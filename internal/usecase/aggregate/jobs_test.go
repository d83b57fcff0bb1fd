package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
)

type fakeGateway struct {
	viewerAggs map[string]domain.ViewerAggregates
	itemAggs   map[string]domain.ItemAggregates
	matrix     map[string]map[string]float64
	trending   []domain.TrendingEntry
	trendErr   error
}

func (f *fakeGateway) AppendBatch(context.Context, []domain.BehaviorEvent) error { return nil }
func (f *fakeGateway) ViewerAggregates(context.Context, []string, int, int) (map[string]domain.ViewerAggregates, error) {
	return f.viewerAggs, nil
}
func (f *fakeGateway) ItemAggregates(context.Context, []string, int, int) (map[string]domain.ItemAggregates, error) {
	return f.itemAggs, nil
}
func (f *fakeGateway) InteractionMatrix(context.Context, []string, []string, int) (map[string]map[string]float64, error) {
	return f.matrix, nil
}
func (f *fakeGateway) Trending(context.Context, domain.ItemKind, int, int, int) ([]domain.TrendingEntry, error) {
	return f.trending, f.trendErr
}
func (f *fakeGateway) ViewerPatterns(context.Context, string) (domain.ViewerPatterns, error) {
	return domain.ViewerPatterns{}, nil
}

type fakeStore struct {
	viewers   map[string]domain.ViewerFeatures
	items     map[string]domain.ItemFeatures
	trending  map[domain.ItemKind][]domain.TrendingEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{viewers: map[string]domain.ViewerFeatures{}, items: map[string]domain.ItemFeatures{}, trending: map[domain.ItemKind][]domain.TrendingEntry{}}
}
func (s *fakeStore) GetViewerBatch(context.Context, []string) (map[string]domain.ViewerFeatures, error) {
	return s.viewers, nil
}
func (s *fakeStore) GetItemBatch(context.Context, []string) (map[string]domain.ItemFeatures, error) {
	return s.items, nil
}
func (s *fakeStore) PutViewerBatch(_ context.Context, entries map[string]domain.ViewerFeatures) error {
	for k, v := range entries {
		s.viewers[k] = v
	}
	return nil
}
func (s *fakeStore) PutItemBatch(_ context.Context, entries map[string]domain.ItemFeatures) error {
	for k, v := range entries {
		s.items[k] = v
	}
	return nil
}
func (s *fakeStore) PatchViewerOnIngest(context.Context, string, domain.ActionKind, time.Time) error {
	return nil
}
func (s *fakeStore) InvalidateViewer(string) {}
func (s *fakeStore) PutTrending(_ context.Context, kind domain.ItemKind, entries []domain.TrendingEntry) error {
	s.trending[kind] = entries
	return nil
}
func (s *fakeStore) GetTrending(_ context.Context, kind domain.ItemKind) ([]domain.TrendingEntry, bool, error) {
	e, ok := s.trending[kind]
	return e, ok, nil
}
func (s *fakeStore) Stats() domain.FeatureStoreStats { return domain.FeatureStoreStats{} }

type fakeVectors struct {
	purged      int64
	compacted   bool
	persisted   map[string]map[string][]float32
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{persisted: map[string]map[string][]float32{}}
}
func (v *fakeVectors) Purge(context.Context, int, int, int) (int64, error) {
	v.purged = 9
	return v.purged, nil
}
func (v *fakeVectors) Compact(context.Context) error { v.compacted = true; return nil }
func (v *fakeVectors) PersistVectors(_ context.Context, kind string, vectors map[string][]float32) error {
	v.persisted[kind] = vectors
	return nil
}

func TestViewerDaily_RefreshesFeaturesFromAggregates(t *testing.T) {
	gw := &fakeGateway{viewerAggs: map[string]domain.ViewerAggregates{
		"v1": {ViewerID: "v1", BehaviorScore: 7, KindCounts: map[domain.ItemKind]int64{domain.KindVideo: 3, domain.KindArticle: 1}},
	}}
	store := newFakeStore()
	j := New(gw, store, newFakeVectors(), config.Config{ViewerWindowDays: 30, MinInteractions: 5})

	success, errCount, err := j.ViewerDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, success)
	assert.Equal(t, 0, errCount)
	assert.Equal(t, domain.ActivityHigh, store.viewers["v1"].Activity)
	assert.Equal(t, []domain.ItemKind{domain.KindVideo, domain.KindArticle}, store.viewers["v1"].PreferredKinds)
}

func TestItemHourly_ComputesQualityFromEngagement(t *testing.T) {
	gw := &fakeGateway{itemAggs: map[string]domain.ItemAggregates{
		"i1": {ItemID: "i1", PopularityScore: 3, EngagementRate: 0.5},
	}}
	store := newFakeStore()
	j := New(gw, store, newFakeVectors(), config.Config{ItemWindowDays: 7, MinInteractions: 5})

	success, _, err := j.ItemHourly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, success)
	assert.InDelta(t, 5.0, store.items["i1"].QualityScore, 0.001)
}

func TestMatrixDaily_PersistsViewerAndItemVectors(t *testing.T) {
	gw := &fakeGateway{matrix: map[string]map[string]float64{
		"v1": {"i1": 3.0, "i2": 1.0},
	}}
	vectors := newFakeVectors()
	j := New(gw, newFakeStore(), vectors, config.Config{ViewerWindowDays: 30})

	success, errCount, err := j.MatrixDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, errCount)
	assert.True(t, success > 0)
	assert.Contains(t, vectors.persisted, "viewer")
	assert.Contains(t, vectors.persisted, "item")
}

func TestTrendingHourly_CachesPerKindAndAllLists(t *testing.T) {
	gw := &fakeGateway{trending: []domain.TrendingEntry{{ItemID: "i1", Score: 5}}}
	store := newFakeStore()
	j := New(gw, store, newFakeVectors(), config.Config{TrendingWindowHours: 24, TrendingMinInteractions: 10})

	success, errCount, err := j.TrendingHourly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, errCount)
	assert.Equal(t, 4, success)
	assert.Len(t, store.trending[""], 1)
}

func TestRetentionWeekly_PurgesThenCompacts(t *testing.T) {
	vectors := newFakeVectors()
	j := New(&fakeGateway{}, newFakeStore(), vectors, config.Config{BehaviorRetentionDays: 90, VectorRetentionDays: 30, BackupRetentionDays: 7})

	success, errCount, err := j.RetentionWeekly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, errCount)
	assert.Equal(t, 9, success)
	assert.True(t, vectors.compacted)
}
