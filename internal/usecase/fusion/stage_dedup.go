package fusion

import (
	"sort"
	"strings"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// dedup implements Stage B: exact-dedup by ItemId (already guaranteed by
// Stage A's map keying) followed by near-dedup via a Jaccard similarity over
// space-tokenized title and description. Items are considered in descending
// fusionScore order so the kept instance of any near-duplicate pair is
// always the higher-scoring one.
func dedup(items []domain.FusedItem, policy Policy) []domain.FusedItem {
	sorted := make([]domain.FusedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FusionScore > sorted[j].FusionScore
	})

	type kept struct {
		item       domain.FusedItem
		titleTok   map[string]struct{}
		descTok    map[string]struct{}
	}
	var keptItems []kept

	out := make([]domain.FusedItem, 0, len(sorted))
	for _, it := range sorted {
		titleTok := tokenize(it.Title)
		descTok := tokenize(it.Description)

		isDup := false
		for _, k := range keptItems {
			sim := policy.DedupTitleWeight*jaccard(titleTok, k.titleTok) + policy.DedupDescWeight*jaccard(descTok, k.descTok)
			if sim > policy.DedupThreshold {
				isDup = true
				break
			}
		}
		if isDup {
			continue
		}
		keptItems = append(keptItems, kept{item: it, titleTok: titleTok, descTok: descTok})
		out = append(out, it)
	}
	return out
}

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
