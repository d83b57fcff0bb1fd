package fusion

import "github.com/fairyhunter13/recrank/internal/domain"

const timeBucketHours = 6

// diversify implements Stage D: an MMR-style greedy selection that trades
// fusionScore against a four-axis diversity term.
func diversify(items []domain.FusedItem, policy Policy, targetSize int) []domain.FusedItem {
	if len(items) == 0 {
		return nil
	}
	remaining := make([]domain.FusedItem, len(items))
	copy(remaining, items)

	selected := make([]domain.FusedItem, 0, targetSize)
	counts := newDiversityCounts()

	// Seed with the highest fusionScore item.
	bestIdx := 0
	for i := 1; i < len(remaining); i++ {
		if remaining[i].FusionScore > remaining[bestIdx].FusionScore {
			bestIdx = i
		}
	}
	selected = append(selected, remaining[bestIdx])
	counts.add(remaining[bestIdx])
	remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)

	for len(selected) < targetSize && len(remaining) > 0 {
		bestIdx = -1
		var bestScore float64
		for i, cand := range remaining {
			div := diversityScore(cand, counts, policy, len(selected))
			score := policy.DiversityLambda*cand.FusionScore + (1-policy.DiversityLambda)*div
			if bestIdx == -1 || score > bestScore ||
				(score == bestScore && tieBreakBetter(cand, remaining[bestIdx])) {
				bestIdx = i
				bestScore = score
			}
		}
		selected = append(selected, remaining[bestIdx])
		counts.add(remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func tieBreakBetter(a, b domain.FusedItem) bool {
	if a.FusionScore != b.FusionScore {
		return a.FusionScore > b.FusionScore
	}
	return a.ItemID < b.ItemID
}

type diversityCounts struct {
	total      int
	category   map[string]int
	kind       map[domain.ItemKind]int
	author     map[string]int
	timeBucket map[int64]int
}

func newDiversityCounts() *diversityCounts {
	return &diversityCounts{
		category:   map[string]int{},
		kind:       map[domain.ItemKind]int{},
		author:     map[string]int{},
		timeBucket: map[int64]int{},
	}
}

func (c *diversityCounts) add(it domain.FusedItem) {
	c.total++
	c.category[it.Category]++
	c.kind[it.Kind]++
	c.author[it.AuthorID]++
	c.timeBucket[timeBucketOf(it)]++
}

func timeBucketOf(it domain.FusedItem) int64 {
	if it.PublishTime.IsZero() {
		return 0
	}
	return it.PublishTime.Unix() / (timeBucketHours * 3600)
}

func ratio(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// diversityScore computes the weighted four-axis diversity term for
// candidate x against the already-selected set S.
func diversityScore(x domain.FusedItem, counts *diversityCounts, policy Policy, selectedSoFar int) float64 {
	if selectedSoFar == 0 {
		return 1
	}
	categoryRatio := ratio(counts.category[x.Category], selectedSoFar)
	categoryScore := 1 - max0(categoryRatio-policy.MaxCategoryRatio)

	kindRatio := ratio(counts.kind[x.Kind], selectedSoFar)
	kindScore := 1 - kindRatio

	authorRatio := ratio(counts.author[x.AuthorID], selectedSoFar)
	authorScore := 1 - max0(authorRatio-policy.MaxAuthorRatio)

	timeRatio := ratio(counts.timeBucket[timeBucketOf(x)], selectedSoFar)
	timeScore := 1 - timeRatio

	weightSum := policy.DiversityCategoryWeight + policy.DiversityKindWeight + policy.DiversityAuthorWeight + policy.DiversityTimeWeight
	if weightSum == 0 {
		weightSum = 1
	}
	weighted := policy.DiversityCategoryWeight*categoryScore +
		policy.DiversityKindWeight*kindScore +
		policy.DiversityAuthorWeight*authorScore +
		policy.DiversityTimeWeight*timeScore
	return weighted / weightSum
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
