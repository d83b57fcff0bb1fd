// Package behaviorlog implements the C2 behavior log gateway's aggregation
// templates as pure functions over a window of BehaviorEvents, so the
// weighted-score math is unit-testable without a live analytical store. The
// postgres adapter fetches the raw window with one filtered SQL query and
// delegates the rollup to these functions, the single canonical definition
// spec.md §4.2 requires ("callers never compose aggregations themselves").
package behaviorlog

import (
	"math"
	"sort"
	"time"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// WeightedScore sums action weights over events, using the same fixed
// action-weight table as the weighted aggregation templates.
func WeightedScore(events []domain.BehaviorEvent) float64 {
	var total float64
	for _, e := range events {
		total += domain.ActionWeights[e.Action]
	}
	return total
}

// ViewerAggregates rolls up events for viewers into spec.md §3's
// ViewerAggregates, filtering out viewers with fewer than minInteractions
// events in the window.
func ViewerAggregates(events []domain.BehaviorEvent, now time.Time, minInteractions int) map[string]domain.ViewerAggregates {
	byViewer := map[string][]domain.BehaviorEvent{}
	for _, e := range events {
		byViewer[e.ViewerID] = append(byViewer[e.ViewerID], e)
	}
	out := map[string]domain.ViewerAggregates{}
	for viewerID, evs := range byViewer {
		if len(evs) < minInteractions {
			continue
		}
		agg := domain.ViewerAggregates{
			ViewerID:     viewerID,
			ActionCounts: map[domain.ActionKind]int64{},
			KindCounts:   map[domain.ItemKind]int64{},
			ComputedAt:   now,
		}
		days := map[string]struct{}{}
		var totalDuration float64
		var durationCount int64
		var weighted float64
		var earliest, latest time.Time
		for _, e := range evs {
			agg.ActionCounts[e.Action]++
			agg.KindCounts[e.Kind]++
			days[e.Timestamp.Format("2006-01-02")] = struct{}{}
			if e.DurationSec > 0 {
				totalDuration += e.DurationSec
				durationCount++
			}
			weighted += domain.ActionWeights[e.Action]
			if earliest.IsZero() || e.Timestamp.Before(earliest) {
				earliest = e.Timestamp
			}
			if e.Timestamp.After(latest) {
				latest = e.Timestamp
			}
		}
		agg.ActiveDays = int64(len(days))
		if durationCount > 0 {
			agg.AvgDuration = totalDuration / float64(durationCount)
		}
		agg.LastActive = latest
		agg.BehaviorScore = clamp(weighted/float64(len(evs)), 0, 10)
		if agg.ActiveDays > 0 {
			agg.DailyAvgActions = float64(len(evs)) / float64(agg.ActiveDays)
		}
		out[viewerID] = agg
	}
	return out
}

// ItemAggregates rolls up events for items into spec.md §3's ItemAggregates.
func ItemAggregates(events []domain.BehaviorEvent, now time.Time, minInteractions int) map[string]domain.ItemAggregates {
	byItem := map[string][]domain.BehaviorEvent{}
	for _, e := range events {
		byItem[e.ItemID] = append(byItem[e.ItemID], e)
	}
	out := map[string]domain.ItemAggregates{}
	for itemID, evs := range byItem {
		if len(evs) < minInteractions {
			continue
		}
		agg := domain.ItemAggregates{
			ItemID:       itemID,
			ActionCounts: map[domain.ActionKind]int64{},
			ComputedAt:   now,
		}
		viewers := map[string]struct{}{}
		for _, e := range evs {
			agg.ActionCounts[e.Action]++
			viewers[e.ViewerID] = struct{}{}
		}
		agg.UniqueViewers = int64(len(viewers))
		views := float64(agg.ActionCounts[domain.ActionView])
		clicks := float64(agg.ActionCounts[domain.ActionClick])
		likes := float64(agg.ActionCounts[domain.ActionLike])
		shares := float64(agg.ActionCounts[domain.ActionShare])
		if views > 0 {
			agg.CTR = clicks / views
			agg.LikeRate = likes / views
			agg.ShareRate = shares / views
		}
		total := float64(len(evs))
		engaged := clicks + likes + shares + float64(agg.ActionCounts[domain.ActionComment]) + float64(agg.ActionCounts[domain.ActionBuy])
		if total > 0 {
			agg.EngagementRate = clamp(engaged/total, 0, 1)
		}
		if len(evs) > 0 {
			agg.UserDiversity = clamp(float64(agg.UniqueViewers)/float64(len(evs)), 0, 1)
		}
		weighted := WeightedScore(evs)
		agg.PopularityScore = clamp(math.Log1p(weighted), 0, 10)
		out[itemID] = agg
	}
	return out
}

// InteractionMatrix builds a sparse (viewer, item) -> weightedScore matrix
// over the window.
func InteractionMatrix(events []domain.BehaviorEvent) map[string]map[string]float64 {
	out := map[string]map[string]float64{}
	for _, e := range events {
		row, ok := out[e.ViewerID]
		if !ok {
			row = map[string]float64{}
			out[e.ViewerID] = row
		}
		row[e.ItemID] += domain.ActionWeights[e.Action]
	}
	return out
}

// Trending ranks items by weighted score within the window, optionally
// filtered to one ItemKind, dropping items below minInteractions and
// truncating to limit.
func Trending(events []domain.BehaviorEvent, kind domain.ItemKind, minInteractions, limit int, now time.Time) []domain.TrendingEntry {
	type acc struct {
		kind  domain.ItemKind
		count int
		score float64
	}
	byItem := map[string]*acc{}
	for _, e := range events {
		if kind != "" && e.Kind != kind {
			continue
		}
		a, ok := byItem[e.ItemID]
		if !ok {
			a = &acc{kind: e.Kind}
			byItem[e.ItemID] = a
		}
		a.count++
		a.score += domain.ActionWeights[e.Action]
	}
	entries := make([]domain.TrendingEntry, 0, len(byItem))
	for itemID, a := range byItem {
		if a.count < minInteractions {
			continue
		}
		entries = append(entries, domain.TrendingEntry{
			ItemID:     itemID,
			Kind:       a.kind,
			Score:      a.score,
			ComputedAt: now,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ItemID < entries[j].ItemID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ViewerPatterns builds the behavioral histograms of spec.md §4.2 #5 for a
// single viewer's events.
func ViewerPatterns(events []domain.BehaviorEvent) domain.ViewerPatterns {
	p := domain.ViewerPatterns{
		ActionHistogram: map[domain.ActionKind]int64{},
		KindHistogram:   map[domain.ItemKind]int64{},
		DeviceHistogram: map[string]int64{},
	}
	for _, e := range events {
		p.HourHistogram[e.Timestamp.Hour()]++
		p.WeekdayHistogram[int(e.Timestamp.Weekday())]++
		p.ActionHistogram[e.Action]++
		p.KindHistogram[e.Kind]++
		if e.DeviceKind != "" {
			p.DeviceHistogram[e.DeviceKind]++
		}
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
