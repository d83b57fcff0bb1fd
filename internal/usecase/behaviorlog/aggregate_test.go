package behaviorlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/domain"
)

func sampleEvents(now time.Time) []domain.BehaviorEvent {
	return []domain.BehaviorEvent{
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now.Add(-time.Hour)},
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionClick, Kind: domain.KindArticle, Timestamp: now.Add(-time.Hour), DurationSec: 30},
		{ViewerID: "v1", ItemID: "i2", Action: domain.ActionLike, Kind: domain.KindVideo, Timestamp: now.Add(-24 * time.Hour), DeviceKind: "mobile"},
		{ViewerID: "v2", ItemID: "i1", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
	}
}

func TestViewerAggregates_FiltersByMinInteractions(t *testing.T) {
	now := time.Now()
	events := sampleEvents(now)

	out := ViewerAggregates(events, now, 2)
	require.Contains(t, out, "v1")
	assert.NotContains(t, out, "v2", "v2 has only 1 event, below minInteractions=2")

	v1 := out["v1"]
	assert.Equal(t, int64(2), v1.ActiveDays)
	assert.InDelta(t, 30.0, v1.AvgDuration, 0.001)
	assert.True(t, v1.BehaviorScore >= 0 && v1.BehaviorScore <= 10)
}

func TestItemAggregates_ComputesRates(t *testing.T) {
	now := time.Now()
	events := []domain.BehaviorEvent{
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionClick, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v2", ItemID: "i1", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
	}
	out := ItemAggregates(events, now, 2)
	i1 := out["i1"]
	assert.Equal(t, int64(2), i1.UniqueViewers)
	assert.InDelta(t, 0.5, i1.CTR, 0.001) // 1 click / 2 views
	assert.True(t, i1.PopularityScore >= 0 && i1.PopularityScore <= 10)
}

func TestTrending_RespectsKindFilterAndLimit(t *testing.T) {
	now := time.Now()
	events := []domain.BehaviorEvent{
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionBuy, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v2", ItemID: "i1", Action: domain.ActionBuy, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v1", ItemID: "i2", Action: domain.ActionView, Kind: domain.KindVideo, Timestamp: now},
		{ViewerID: "v2", ItemID: "i2", Action: domain.ActionView, Kind: domain.KindVideo, Timestamp: now},
	}
	out := Trending(events, domain.KindArticle, 2, 10, now)
	require.Len(t, out, 1)
	assert.Equal(t, "i1", out[0].ItemID)
}

func TestTrending_DeterministicTieBreakByItemID(t *testing.T) {
	now := time.Now()
	events := []domain.BehaviorEvent{
		{ViewerID: "v1", ItemID: "iB", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v2", ItemID: "iB", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v1", ItemID: "iA", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
		{ViewerID: "v2", ItemID: "iA", Action: domain.ActionView, Kind: domain.KindArticle, Timestamp: now},
	}
	out := Trending(events, "", 2, 10, now)
	require.Len(t, out, 2)
	assert.Equal(t, "iA", out[0].ItemID, "equal scores must tie-break by ascending ItemID")
}

func TestInteractionMatrix_SumsWeightsPerPair(t *testing.T) {
	now := time.Now()
	events := []domain.BehaviorEvent{
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionView, Timestamp: now},
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionLike, Timestamp: now},
	}
	m := InteractionMatrix(events)
	assert.InDelta(t, 1+3, m["v1"]["i1"], 0.001)
}

func TestViewerPatterns_BuildsHistograms(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC) // Thursday
	events := []domain.BehaviorEvent{
		{ViewerID: "v1", ItemID: "i1", Action: domain.ActionView, Kind: domain.KindArticle, DeviceKind: "mobile", Timestamp: now},
	}
	p := ViewerPatterns(events)
	assert.Equal(t, int64(1), p.HourHistogram[14])
	assert.Equal(t, int64(1), p.WeekdayHistogram[int(time.Thursday)])
	assert.Equal(t, int64(1), p.ActionHistogram[domain.ActionView])
	assert.Equal(t, int64(1), p.DeviceHistogram["mobile"])
}
