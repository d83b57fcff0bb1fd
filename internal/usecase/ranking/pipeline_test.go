package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/domain"
)

type fakeFeatureStore struct {
	viewers map[string]domain.ViewerFeatures
	items   map[string]domain.ItemFeatures
}

func (f *fakeFeatureStore) GetViewerBatch(ctx domain.Context, ids []string) (map[string]domain.ViewerFeatures, error) {
	out := map[string]domain.ViewerFeatures{}
	for _, id := range ids {
		if v, ok := f.viewers[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeFeatureStore) GetItemBatch(ctx domain.Context, ids []string) (map[string]domain.ItemFeatures, error) {
	out := map[string]domain.ItemFeatures{}
	for _, id := range ids {
		if v, ok := f.items[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeFeatureStore) PutViewerBatch(ctx domain.Context, entries map[string]domain.ViewerFeatures) error {
	return nil
}
func (f *fakeFeatureStore) PutItemBatch(ctx domain.Context, entries map[string]domain.ItemFeatures) error {
	return nil
}
func (f *fakeFeatureStore) PatchViewerOnIngest(ctx domain.Context, viewerID string, action domain.ActionKind, at time.Time) error {
	return nil
}
func (f *fakeFeatureStore) InvalidateViewer(viewerID string) {}
func (f *fakeFeatureStore) PutTrending(ctx domain.Context, kind domain.ItemKind, entries []domain.TrendingEntry) error {
	return nil
}
func (f *fakeFeatureStore) GetTrending(ctx domain.Context, kind domain.ItemKind) ([]domain.TrendingEntry, bool, error) {
	return nil, false, nil
}
func (f *fakeFeatureStore) Stats() domain.FeatureStoreStats { return domain.FeatureStoreStats{} }

// scoreByFirstItemFeature scores a row by the first element of its item
// vector, which follows the viewer vector in the assembled row.
type scoreByFirstItemFeature struct{}

func (scoreByFirstItemFeature) Score(ctx domain.Context, features []float32) (float32, error) {
	return features[domain.DimViewerVector], nil
}
func (scoreByFirstItemFeature) Stats() domain.BatcherStats { return domain.BatcherStats{} }

type failingBatcher struct{ kind domain.Kind }

func (f failingBatcher) Score(ctx domain.Context, features []float32) (float32, error) {
	return 0, domain.NewError(f.kind, "boom", nil)
}
func (f failingBatcher) Stats() domain.BatcherStats { return domain.BatcherStats{} }

func TestRank_OrdersByScoreThenPopularityThenID(t *testing.T) {
	fs := &fakeFeatureStore{
		viewers: map[string]domain.ViewerFeatures{"v1": {ViewerID: "v1"}},
		items: map[string]domain.ItemFeatures{
			"a": {ItemID: "a", PopularityScore: 1, Vector: vecWithFirst(0.5)},
			"b": {ItemID: "b", PopularityScore: 9, Vector: vecWithFirst(0.9)},
			"c": {ItemID: "c", PopularityScore: 5, Vector: vecWithFirst(0.5)},
		},
	}
	p := New(fs, scoreByFirstItemFeature{})
	candidates := []domain.Candidate{{ItemID: "a"}, {ItemID: "b"}, {ItemID: "c"}}

	out, err := p.Rank(context.Background(), "v1", candidates, domain.RequestContext{Now: time.Now()}, 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ItemID)
	// a and c tie on score (0.5); c has higher popularity so it comes first.
	assert.Equal(t, "c", out[1].ItemID)
	assert.Equal(t, "a", out[2].ItemID)
}

func TestRank_CapsToMaxResults(t *testing.T) {
	fs := &fakeFeatureStore{items: map[string]domain.ItemFeatures{}}
	p := New(fs, scoreByFirstItemFeature{})
	candidates := make([]domain.Candidate, 5)
	for i := range candidates {
		candidates[i] = domain.Candidate{ItemID: string(rune('a' + i))}
	}
	out, err := p.Rank(context.Background(), "v1", candidates, domain.RequestContext{Now: time.Now()}, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRank_ScorerUnavailableFailsWhole(t *testing.T) {
	fs := &fakeFeatureStore{items: map[string]domain.ItemFeatures{}}
	p := New(fs, failingBatcher{kind: domain.KindServiceUnavailable})
	_, err := p.Rank(context.Background(), "v1", []domain.Candidate{{ItemID: "a"}}, domain.RequestContext{Now: time.Now()}, 10)
	require.Error(t, err)
	assert.Equal(t, domain.KindServiceUnavailable, domain.KindOf(err))
}

func TestRank_PerCandidateFailureYieldsZeroScore(t *testing.T) {
	fs := &fakeFeatureStore{items: map[string]domain.ItemFeatures{}}
	p := New(fs, failingBatcher{kind: domain.KindTimeout})
	out, err := p.Rank(context.Background(), "v1", []domain.Candidate{{ItemID: "a"}}, domain.RequestContext{Now: time.Now()}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.0, out[0].RankingScore)
}

func vecWithFirst(v float32) [domain.DimItemVector]float32 {
	var arr [domain.DimItemVector]float32
	arr[0] = v
	return arr
}

