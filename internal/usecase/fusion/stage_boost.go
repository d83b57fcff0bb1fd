package fusion

import (
	"math"
	"sort"
	"time"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// boostAndSort implements Stage E: compose finalScore from fusionScore plus
// three bounded boosts, then sort descending and truncate to targetSize.
func boostAndSort(items []domain.FusedItem, policy Policy, reqCtx domain.RequestContext, targetSize int, now time.Time) []domain.FusedItem {
	out := make([]domain.FusedItem, len(items))
	for i, it := range items {
		it.FreshnessBoost = freshnessBoost(it, policy, now)
		it.PopularityBoost = popularityBoost(it, policy)
		it.PersonalizationBoost = personalizationBoost(it, reqCtx, now)
		it.FinalScore = policy.BoostBaseWeight*it.FusionScore +
			policy.BoostFreshnessWeight*it.FreshnessBoost +
			policy.BoostPopularityWeight*it.PopularityBoost +
			policy.BoostPersonalizationWeight*it.PersonalizationBoost
		out[i] = it
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].ItemID < out[j].ItemID
	})

	if targetSize > 0 && len(out) > targetSize {
		out = out[:targetSize]
	}
	return out
}

func freshnessBoost(it domain.FusedItem, policy Policy, now time.Time) float64 {
	if it.PublishTime.IsZero() {
		return 0.5
	}
	ageHours := now.Sub(it.PublishTime).Hours()
	halfLife := policy.FreshnessHalfLifeHours
	if halfLife <= 0 {
		halfLife = 24
	}
	return clamp01(math.Exp(-ageHours / halfLife))
}

func popularityBoost(it domain.FusedItem, policy Policy) float64 {
	maxExpected := policy.PopularityMaxExpected
	if maxExpected <= 0 {
		maxExpected = 20
	}
	raw := 0.4*math.Log1p(float64(it.ViewCount)) +
		0.3*math.Log1p(float64(it.LikeCount)) +
		0.2*math.Log1p(float64(it.ShareCount)) +
		0.1*math.Log1p(float64(it.CommentCount))
	return math.Min(1, raw/maxExpected)
}

// personalizationBoost starts at 0.5 and adds 0.15 when the request hour
// (reqCtx.Now, or now when that is zero) is 18-23 and the item is a video,
// and 0.1 when the request comes from a mobile device and the item is an
// article; the result is clamped to [0,1]. The rules are fixed: no
// per-viewer active-hour or device history is consulted, and the boost
// never goes below 0.5.
func personalizationBoost(it domain.FusedItem, reqCtx domain.RequestContext, now time.Time) float64 {
	boost := 0.5
	hour := reqCtx.Now.Hour()
	if reqCtx.Now.IsZero() {
		hour = now.Hour()
	}
	if hour >= 18 && hour <= 23 && it.Kind == domain.KindVideo {
		boost += 0.15
	}
	if reqCtx.DeviceKind == "mobile" && it.Kind == domain.KindArticle {
		boost += 0.1
	}
	return clamp01(boost)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
