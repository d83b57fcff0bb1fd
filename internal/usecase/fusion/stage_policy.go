package fusion

import (
	"time"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/domain"
)

// policyFilter implements Stage C: drop any item violating the configured
// business rules, counting rejections per reason.
func policyFilter(items []domain.FusedItem, policy Policy, now time.Time) []domain.FusedItem {
	out := make([]domain.FusedItem, 0, len(items))
	for _, it := range items {
		if reason, violates := policyReject(it, policy, now); violates {
			observability.RecordFusionRejection(reason)
			continue
		}
		out = append(out, it)
	}
	return out
}

func policyReject(it domain.FusedItem, policy Policy, now time.Time) (string, bool) {
	if it.QualityScore < policy.MinQuality {
		return "low_quality", true
	}
	if !it.PublishTime.IsZero() {
		ageDays := now.Sub(it.PublishTime).Hours() / 24
		if ageDays > float64(policy.MaxAgeDays) {
			return "too_old", true
		}
	}
	if _, blocked := policy.BlockedCategories[it.Category]; blocked {
		return "blocked_category", true
	}
	if _, blocked := policy.BlockedAuthors[it.AuthorID]; blocked {
		return "blocked_author", true
	}
	if it.ViewerRating < policy.MinRating {
		return "low_rating", true
	}
	if policy.RequireReview && it.ReviewStatus != "approved" {
		return "not_reviewed", true
	}
	return "", false
}
