// Package aggregate implements the C4 offline aggregator: five scheduled
// jobs that refresh the feature store and analytical store from the
// behavior log, grounded on the teacher's cleanup.go periodic-sweep style.
package aggregate

import (
	"sort"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
	"github.com/fairyhunter13/recrank/internal/obs"
)

var tracer = otel.Tracer("usecase.aggregate")

// VectorStore is the narrow retention/vector-persistence capability the
// matrix-daily and retention-weekly jobs need, implemented by the postgres
// RetentionService adapter.
type VectorStore interface {
	Purge(ctx domain.Context, behaviorDays, vectorDays, backupDays int) (int64, error)
	Compact(ctx domain.Context) error
	PersistVectors(ctx domain.Context, entityKind string, vectors map[string][]float32) error
}

// Jobs wires together the five offline jobs over the behavior log gateway,
// feature store, and vector store.
type Jobs struct {
	Gateway domain.BehaviorLogGateway
	Store   domain.FeatureStore
	Vectors VectorStore
	Cfg     config.Config
}

// New constructs a Jobs registry.
func New(gw domain.BehaviorLogGateway, store domain.FeatureStore, vectors VectorStore, cfg config.Config) *Jobs {
	return &Jobs{Gateway: gw, Store: store, Vectors: vectors, Cfg: cfg}
}

func (j *Jobs) runJob(ctx domain.Context, name string, fn func(ctx domain.Context) (int, int, error)) (int, int, error) {
	ctx, span := tracer.Start(ctx, "aggregate."+name)
	defer span.End()
	lg := obs.LoggerFromContext(ctx)
	start := time.Now()
	success, errCount, err := fn(ctx)
	dur := time.Since(start)
	observability.RecordOfflineJob(name, err == nil, dur)
	if err != nil {
		lg.Warn("aggregate job failed", "job", name, "error", err)
	}
	return success, errCount, err
}

// ViewerDaily refreshes ViewerFeatures.{behaviorScore, activity,
// preferredKinds, lastActive} from viewerAggregates(windowDays=30)
// (spec.md §4.4).
func (j *Jobs) ViewerDaily(ctx domain.Context) (int, int, error) {
	return j.runJob(ctx, "viewer-daily", func(ctx domain.Context) (int, int, error) {
		aggs, err := j.Gateway.ViewerAggregates(ctx, nil, j.Cfg.ViewerWindowDays, j.Cfg.MinInteractions)
		if err != nil {
			return 0, 1, err
		}
		entries := make(map[string]domain.ViewerFeatures, len(aggs))
		for id, agg := range aggs {
			entries[id] = domain.ViewerFeatures{
				ViewerID:       id,
				BehaviorScore:  clamp(agg.BehaviorScore, 0, 10),
				Activity:       activityFromScore(agg.BehaviorScore),
				PreferredKinds: preferredKinds(agg.KindCounts),
				LastActive:     agg.LastActive,
				UpdatedAt:      time.Now(),
			}
		}
		if err := j.Store.PutViewerBatch(ctx, entries); err != nil {
			return 0, len(entries), err
		}
		return len(entries), 0, nil
	})
}

// ItemHourly refreshes ItemFeatures.{popularityScore,
// qualityScore:=engagementRate*10} from itemAggregates(windowDays=7)
// (spec.md §4.4).
func (j *Jobs) ItemHourly(ctx domain.Context) (int, int, error) {
	return j.runJob(ctx, "item-hourly", func(ctx domain.Context) (int, int, error) {
		aggs, err := j.Gateway.ItemAggregates(ctx, nil, j.Cfg.ItemWindowDays, j.Cfg.MinInteractions)
		if err != nil {
			return 0, 1, err
		}
		entries := make(map[string]domain.ItemFeatures, len(aggs))
		for id, agg := range aggs {
			entries[id] = domain.ItemFeatures{
				ItemID:          id,
				PopularityScore: clamp(agg.PopularityScore, 0, 10),
				QualityScore:    clamp(agg.EngagementRate*10, 0, 10),
				UpdatedAt:       time.Now(),
			}
		}
		if err := j.Store.PutItemBatch(ctx, entries); err != nil {
			return 0, len(entries), err
		}
		return len(entries), 0, nil
	})
}

// MatrixDaily materializes the interaction matrix and persists per-viewer
// and per-item vectors to the analytical store (spec.md §4.4). Each viewer's
// row of interaction weights and each item's column sum stand in for the
// full embedding a real trainer would
// produce; this job's job is plumbing the write path, not modeling quality.
func (j *Jobs) MatrixDaily(ctx domain.Context) (int, int, error) {
	return j.runJob(ctx, "matrix-daily", func(ctx domain.Context) (int, int, error) {
		matrix, err := j.Gateway.InteractionMatrix(ctx, nil, nil, j.Cfg.ViewerWindowDays)
		if err != nil {
			return 0, 1, err
		}
		viewerVectors := make(map[string][]float32, len(matrix))
		itemTotals := map[string]float64{}
		for viewerID, row := range matrix {
			vec := make([]float32, 0, len(row))
			for itemID, weight := range row {
				vec = append(vec, float32(weight))
				itemTotals[itemID] += weight
			}
			viewerVectors[viewerID] = vec
		}
		itemVectors := make(map[string][]float32, len(itemTotals))
		for itemID, total := range itemTotals {
			itemVectors[itemID] = []float32{float32(total)}
		}

		errCount := 0
		if err := j.Vectors.PersistVectors(ctx, "viewer", viewerVectors); err != nil {
			errCount++
		}
		if err := j.Vectors.PersistVectors(ctx, "item", itemVectors); err != nil {
			errCount++
		}
		success := len(viewerVectors) + len(itemVectors)
		if errCount > 0 {
			return 0, success, err
		}
		return success, 0, nil
	})
}

// TrendingHourly recomputes trending(all) plus per-kind lists over a 24h
// window and caches them with a 1h TTL (spec.md §4.4).
func (j *Jobs) TrendingHourly(ctx domain.Context) (int, int, error) {
	return j.runJob(ctx, "trending-hourly", func(ctx domain.Context) (int, int, error) {
		kinds := []domain.ItemKind{"", domain.KindArticle, domain.KindVideo, domain.KindProduct}
		success, errCount := 0, 0
		for _, kind := range kinds {
			entries, err := j.Gateway.Trending(ctx, kind, j.Cfg.TrendingWindowHours, j.Cfg.TrendingMinInteractions, 100)
			if err != nil {
				errCount++
				continue
			}
			if err := j.Store.PutTrending(ctx, kind, entries); err != nil {
				errCount++
				continue
			}
			success++
		}
		if errCount == len(kinds) {
			return success, errCount, domain.NewError(domain.KindInternal, "trending-hourly: all kinds failed", domain.ErrInternal)
		}
		return success, errCount, nil
	})
}

// RetentionWeekly purges behavior events older than 90d, vectors older than
// 30d, and backups older than 7d, then triggers storage compaction,
// resolving Open Question 2 (purge before compact) (spec.md §4.4).
func (j *Jobs) RetentionWeekly(ctx domain.Context) (int, int, error) {
	return j.runJob(ctx, "retention-weekly", func(ctx domain.Context) (int, int, error) {
		rows, err := j.Vectors.Purge(ctx, j.Cfg.BehaviorRetentionDays, j.Cfg.VectorRetentionDays, j.Cfg.BackupRetentionDays)
		if err != nil {
			return 0, 1, err
		}
		if err := j.Vectors.Compact(ctx); err != nil {
			return int(rows), 1, err
		}
		return int(rows), 0, nil
	})
}

func preferredKinds(counts map[domain.ItemKind]int64) []domain.ItemKind {
	type kv struct {
		kind  domain.ItemKind
		count int64
	}
	kvs := make([]kv, 0, len(counts))
	for k, c := range counts {
		kvs = append(kvs, kv{k, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].kind < kvs[j].kind
	})
	out := make([]domain.ItemKind, len(kvs))
	for i, e := range kvs {
		out[i] = e.kind
	}
	return out
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

func activityFromScore(score float64) domain.Activity {
	switch {
	case score >= 6:
		return domain.ActivityHigh
	case score >= 2:
		return domain.ActivityMedium
	default:
		return domain.ActivityLow
	}
}
