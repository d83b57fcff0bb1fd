package fusion

import "github.com/fairyhunter13/recrank/internal/domain"

// weightedFusion implements Stage A: for every item produced by at least one
// algorithm, combine each algorithm's positional contribution into a single
// fusionScore, plus a coverage bonus rewarding items surfaced by more
// algorithms.
func weightedFusion(results map[string]domain.AlgorithmResult, policy Policy) []domain.FusedItem {
	if len(results) == 0 {
		return nil
	}
	// numConfigured is the number of algorithms the policy knows about, not
	// just the number that returned items for this request, so an algorithm
	// that came back empty still counts against coverage.
	numConfigured := len(policy.AlgorithmWeights)
	if numConfigured == 0 {
		numConfigured = len(results)
	}

	type accum struct {
		item          domain.FusedItem
		weightedSum   float64
		weightTotal   float64
		algorithmHits int
	}
	byID := make(map[string]*accum)
	var order []string

	for algoName, result := range results {
		weight := policy.algorithmWeight(algoName)
		for k, it := range result.Items {
			positionScore := 1.0 / float64(k+1)
			contribution := it.RawScore * positionScore

			a, ok := byID[it.ItemID]
			if !ok {
				a = &accum{item: domain.FusedItem{AlgorithmItem: it}}
				byID[it.ItemID] = a
				order = append(order, it.ItemID)
			}
			a.weightedSum += contribution * weight
			a.weightTotal += weight
			a.algorithmHits++
		}
	}

	out := make([]domain.FusedItem, 0, len(order))
	for _, id := range order {
		a := byID[id]
		fusionScore := 0.0
		if a.weightTotal > 0 {
			fusionScore = a.weightedSum / a.weightTotal
		}
		coverageBonus := (float64(a.algorithmHits) / float64(numConfigured)) * 0.1
		item := a.item
		item.FusionScore = fusionScore + coverageBonus
		item.AlgorithmCoverage = a.algorithmHits
		out = append(out, item)
	}
	return out
}
