// Package fusion implements the C8 fusion and rerank pipeline: weighted
// merge of parallel upstream recommender outputs, deduplication, policy
// filtering, MMR-style diversification, and final boost composition.
package fusion

import "github.com/fairyhunter13/recrank/internal/config"

// Policy bundles every configured knob the five fusion stages consult.
// Built once at wiring time from config.Config and held immutable for the
// lifetime of the pipeline.
type Policy struct {
	AlgorithmWeights map[string]float64

	DedupThreshold   float64
	DedupTitleWeight float64
	DedupDescWeight  float64

	MinQuality        float64
	MaxAgeDays        int
	MinRating         float64
	RequireReview     bool
	BlockedCategories map[string]struct{}
	BlockedAuthors    map[string]struct{}

	DiversityLambda         float64
	DiversityCategoryWeight float64
	DiversityKindWeight     float64
	DiversityAuthorWeight   float64
	DiversityTimeWeight     float64
	MaxCategoryRatio        float64
	MaxAuthorRatio          float64

	BoostBaseWeight            float64
	BoostFreshnessWeight       float64
	BoostPopularityWeight      float64
	BoostPersonalizationWeight float64
	FreshnessHalfLifeHours     float64
	PopularityMaxExpected      float64
}

// NewPolicyFromConfig builds a Policy from application configuration.
func NewPolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		AlgorithmWeights: cfg.AlgorithmWeights(),

		DedupThreshold:   cfg.DedupSimilarityThreshold,
		DedupTitleWeight: cfg.DedupTitleWeight,
		DedupDescWeight:  cfg.DedupDescWeight,

		MinQuality:        cfg.MinQuality,
		MaxAgeDays:        cfg.MaxAgeDays,
		MinRating:         cfg.MinRating,
		RequireReview:     cfg.RequireReview,
		BlockedCategories: toSet(cfg.BlockedCategories()),
		BlockedAuthors:    toSet(cfg.BlockedAuthors()),

		DiversityLambda:         cfg.DiversityLambda,
		DiversityCategoryWeight: cfg.DiversityCategoryWeight,
		DiversityKindWeight:     cfg.DiversityKindWeight,
		DiversityAuthorWeight:   cfg.DiversityAuthorWeight,
		DiversityTimeWeight:     cfg.DiversityTimeWeight,
		MaxCategoryRatio:        cfg.MaxCategoryRatio,
		MaxAuthorRatio:          cfg.MaxAuthorRatio,

		BoostBaseWeight:            cfg.BoostBaseWeight,
		BoostFreshnessWeight:       cfg.BoostFreshnessWeight,
		BoostPopularityWeight:      cfg.BoostPopularityWeight,
		BoostPersonalizationWeight: cfg.BoostPersonalizationWeight,
		FreshnessHalfLifeHours:     cfg.FreshnessHalfLifeHours,
		PopularityMaxExpected:      cfg.PopularityMaxExpected,
	}
}

// algorithmWeight returns the configured weight for name, defaulting to 1.0
// when unlisted so an un-configured algorithm is never silently zeroed out.
func (p Policy) algorithmWeight(name string) float64 {
	if w, ok := p.AlgorithmWeights[name]; ok {
		return w
	}
	return 1.0
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}
