package fusion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/domain"
)

func basePolicy() Policy {
	return Policy{
		AlgorithmWeights:        map[string]float64{"algo1": 0.5, "algo2": 0.5},
		DedupThreshold:          0.8,
		DedupTitleWeight:        0.4,
		DedupDescWeight:         0.6,
		MinQuality:              0,
		MaxAgeDays:              3650,
		MinRating:               0,
		RequireReview:           false,
		BlockedCategories:       map[string]struct{}{},
		BlockedAuthors:          map[string]struct{}{},
		DiversityLambda:         0.7,
		DiversityCategoryWeight: 0.3,
		DiversityKindWeight:     0.2,
		DiversityAuthorWeight:   0.2,
		DiversityTimeWeight:     0.3,
		MaxCategoryRatio:        0.4,
		MaxAuthorRatio:          0.3,
		BoostBaseWeight:         1,
		FreshnessHalfLifeHours:  24,
		PopularityMaxExpected:   20,
	}
}

// S4 — Fusion coverage bonus. X and Y each sit at rank 1 of every list
// they appear in, so they are fused in separate runs: X only in algo1,
// Y in both algo1 and algo2.
func TestFuse_CoverageBonus(t *testing.T) {
	xOnly := map[string]domain.AlgorithmResult{
		"algo1": {AlgorithmName: "algo1", Items: []domain.AlgorithmItem{
			{ItemID: "X", RawScore: 0.8, ReviewStatus: "approved"},
		}},
	}
	yBoth := map[string]domain.AlgorithmResult{
		"algo1": {AlgorithmName: "algo1", Items: []domain.AlgorithmItem{
			{ItemID: "Y", RawScore: 0.8, ReviewStatus: "approved"},
		}},
		"algo2": {AlgorithmName: "algo2", Items: []domain.AlgorithmItem{
			{ItemID: "Y", RawScore: 0.8, ReviewStatus: "approved"},
		}},
	}

	var x, y domain.FusedItem
	for _, it := range weightedFusion(xOnly, basePolicy()) {
		if it.ItemID == "X" {
			x = it
		}
	}
	for _, it := range weightedFusion(yBoth, basePolicy()) {
		if it.ItemID == "Y" {
			y = it
		}
	}
	assert.InDelta(t, y.FusionScore-x.FusionScore, 0.05, 1e-9)
}

// S5 — MMR pushes diversity into the top-k.
func TestDiversify_PushesMinorityCategoryIntoTopK(t *testing.T) {
	var items []domain.FusedItem
	for i := 0; i < 8; i++ {
		items = append(items, domain.FusedItem{
			AlgorithmItem: domain.AlgorithmItem{ItemID: "tech" + string(rune('A'+i)), Category: "tech", Kind: domain.KindArticle, AuthorID: "techauthor"},
			FusionScore:   0.9,
		})
	}
	for i := 0; i < 2; i++ {
		items = append(items, domain.FusedItem{
			AlgorithmItem: domain.AlgorithmItem{ItemID: "sport" + string(rune('A'+i)), Category: "sports", Kind: domain.KindArticle, AuthorID: "sportauthor"},
			FusionScore:   0.7,
		})
	}
	policy := basePolicy()
	policy.MaxCategoryRatio = 0.4
	// Every candidate shares one kind and one (zero) publish-time bucket, so
	// those two axes cannot separate them; only category and author count.
	policy.DiversityKindWeight = 0
	policy.DiversityTimeWeight = 0

	top5 := diversify(items, policy, 5)
	require.Len(t, top5, 5)
	var sawSports bool
	for _, it := range top5 {
		if it.Category == "sports" {
			sawSports = true
		}
	}
	assert.True(t, sawSports, "top-5 diversified output should include at least one sports item")
}

// S6 — Policy strictness: pending review is rejected when review is required.
func TestPolicyFilter_RejectsUnreviewed(t *testing.T) {
	items := []domain.FusedItem{
		{AlgorithmItem: domain.AlgorithmItem{ItemID: "A", ReviewStatus: "pending", QualityScore: 5, ViewerRating: 5}},
	}
	policy := basePolicy()
	policy.RequireReview = true
	policy.MinQuality = 0
	policy.MinRating = 0

	out := policyFilter(items, policy, time.Now())
	assert.Empty(t, out)
}

// Property 5 — dedup soundness: no duplicate ItemIds, no pair over threshold.
func TestDedup_DropsNearDuplicateByTitle(t *testing.T) {
	items := []domain.FusedItem{
		{AlgorithmItem: domain.AlgorithmItem{ItemID: "A", Title: "breaking news today"}, FusionScore: 0.9},
		{AlgorithmItem: domain.AlgorithmItem{ItemID: "B", Title: "breaking news today now"}, FusionScore: 0.8},
	}
	policy := basePolicy()
	policy.DedupThreshold = 0.5
	// Title-only similarity: Jaccard 3/4 = 0.75 > 0.5.
	policy.DedupTitleWeight = 1
	policy.DedupDescWeight = 0

	out := dedup(items, policy)
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].ItemID)
}

// Property 7 — clamp law: every boost is in [0,1].
func TestBoostAndSort_BoostsAreBounded(t *testing.T) {
	items := []domain.FusedItem{
		{AlgorithmItem: domain.AlgorithmItem{ItemID: "A", ViewCount: 1_000_000, LikeCount: 500_000}, FusionScore: 0.5},
		{AlgorithmItem: domain.AlgorithmItem{ItemID: "B", PublishTime: time.Now().Add(-1000 * time.Hour)}, FusionScore: 0.4},
	}
	policy := basePolicy()
	out := boostAndSort(items, policy, domain.RequestContext{}, 10, time.Now())
	for _, it := range out {
		assert.True(t, it.FreshnessBoost >= 0 && it.FreshnessBoost <= 1)
		assert.True(t, it.PopularityBoost >= 0 && it.PopularityBoost <= 1)
		assert.True(t, it.PersonalizationBoost >= 0 && it.PersonalizationBoost <= 1)
	}
}

// Any internal stage failure must fall back to the first algorithm's
// results rather than fail the whole request. A malformed upstream view
// count (negative, feeding math.Log1p below -1 in popularityBoost) drives
// a real NaN finalScore, which checkFinite catches and routes to
// degraded().
func TestPipeline_Fuse_DegradedModeOnNonFiniteStageOutput(t *testing.T) {
	results := map[string]domain.AlgorithmResult{
		"algoA": {AlgorithmName: "algoA", Items: []domain.AlgorithmItem{
			{ItemID: "A1", RawScore: 0.5, ReviewStatus: "approved"},
			{ItemID: "A2", RawScore: 0.3, ReviewStatus: "approved"},
		}},
		"algoB": {AlgorithmName: "algoB", Items: []domain.AlgorithmItem{
			{ItemID: "B1", RawScore: 0.9, ReviewStatus: "approved", ViewCount: -2},
		}},
	}
	p := New(basePolicy())
	out := p.Fuse(context.Background(), "viewer-1", results, 10, domain.RequestContext{Now: time.Now()})

	// "algoA" sorts first lexicographically, so the degraded fallback must
	// be exactly algoA's items, verbatim and in order, not the normal
	// fused/diversified/boosted output.
	require.Len(t, out, 2)
	assert.Equal(t, "A1", out[0].ItemID)
	assert.Equal(t, 0.5, out[0].FusionScore)
	assert.Equal(t, 0.5, out[0].FinalScore)
	assert.Equal(t, "A2", out[1].ItemID)
}

func TestPipeline_Fuse_EmptyInputReturnsEmpty(t *testing.T) {
	p := New(basePolicy())
	out := p.Fuse(context.Background(), "viewer-1", map[string]domain.AlgorithmResult{}, 10, domain.RequestContext{})
	assert.Empty(t, out)
}
