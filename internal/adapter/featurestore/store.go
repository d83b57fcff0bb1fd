// Package featurestore implements the C3 tiered feature cache: an in-process
// LRU (L1), a shared Redis KV tier with TTLs (L2), and a compute-on-miss path
// through the behavior log gateway (L3), bounded to one in-flight
// computation per id.
package featurestore

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
)

var tracer = otel.Tracer("adapter.featurestore")

// Store is the C3 capability implementation.
type Store struct {
	cfg   config.Config
	gw    domain.BehaviorLogGateway
	redis *redis.Client

	viewerLRU *lru.Cache[string, domain.ViewerFeatures]
	itemLRU   *lru.Cache[string, domain.ItemFeatures]

	// stripes bounds per-id write serialization to a fixed table, per
	// spec.md §4.3's "keyed mutex with a bounded table (default 4096 stripes)".
	stripes []sync.Mutex

	sf         singleflight.Group
	sfInFlight atomic.Int64

	patchScript *redis.Script
}

// NewStore constructs a Store. rdb may be nil, in which case the L2 tier is
// skipped and every miss falls through to L3 compute.
func NewStore(cfg config.Config, gw domain.BehaviorLogGateway, rdb *redis.Client) (*Store, error) {
	capacity := cfg.L1Capacity
	if capacity <= 0 {
		capacity = 1
	}
	viewerLRU, err := lru.New[string, domain.ViewerFeatures](capacity)
	if err != nil {
		return nil, fmt.Errorf("op=featurestore.NewStore: viewer lru: %w", err)
	}
	itemLRU, err := lru.New[string, domain.ItemFeatures](capacity)
	if err != nil {
		return nil, fmt.Errorf("op=featurestore.NewStore: item lru: %w", err)
	}
	stripes := cfg.L1Stripes
	if stripes <= 0 {
		stripes = 4096
	}
	return &Store{
		cfg:         cfg,
		gw:          gw,
		redis:       rdb,
		viewerLRU:   viewerLRU,
		itemLRU:     itemLRU,
		stripes:     make([]sync.Mutex, stripes),
		patchScript: redis.NewScript(luaViewerPatchScript),
	}, nil
}

func viewerKey(id string) string { return "viewer:features:" + id }
func itemKey(id string) string   { return "content:features:" + id }
func patchKey(id string) string  { return "viewer:patch:" + id }

func trendingKey(kind domain.ItemKind) string {
	if kind == "" {
		return "trending:all"
	}
	return "trending:" + string(kind)
}

func stripeIndex(id string, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32()) % n
}

func (s *Store) withStripe(id string, fn func()) {
	idx := stripeIndex(id, len(s.stripes))
	s.stripes[idx].Lock()
	defer s.stripes[idx].Unlock()
	fn()
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

func bumpActivity(a domain.Activity) domain.Activity {
	switch a {
	case domain.ActivityLow:
		return domain.ActivityMedium
	case domain.ActivityMedium:
		return domain.ActivityHigh
	default:
		return domain.ActivityHigh
	}
}

// GetViewerBatch reads viewer features through L1 -> L2 -> L3 in order.
func (s *Store) GetViewerBatch(ctx domain.Context, ids []string) (map[string]domain.ViewerFeatures, error) {
	ctx, span := tracer.Start(ctx, "featurestore.GetViewerBatch")
	defer span.End()

	out := make(map[string]domain.ViewerFeatures, len(ids))
	var misses []string
	for _, id := range ids {
		if vf, ok := s.viewerLRU.Get(id); ok {
			out[id] = vf
			observability.RecordFeatureStoreRead("l1", "hit")
			continue
		}
		observability.RecordFeatureStoreRead("l1", "miss")
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	l2Misses := s.hydrateViewersFromL2(ctx, misses, out)
	if len(l2Misses) == 0 {
		return out, nil
	}
	for id, vf := range s.computeViewerBatch(ctx, l2Misses) {
		out[id] = vf
	}
	return out, nil
}

func (s *Store) hydrateViewersFromL2(ctx domain.Context, ids []string, out map[string]domain.ViewerFeatures) []string {
	if s.redis == nil {
		return ids
	}
	pipe := s.redis.Pipeline()
	recordCmds := make(map[string]*redis.StringCmd, len(ids))
	patchCmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		recordCmds[id] = pipe.Get(ctx, viewerKey(id))
		patchCmds[id] = pipe.HGetAll(ctx, patchKey(id))
	}
	_, _ = pipe.Exec(ctx) // redis.Nil per-command errors are expected on miss

	var misses []string
	for _, id := range ids {
		raw, err := recordCmds[id].Result()
		if err != nil {
			observability.RecordFeatureStoreRead("l2", "miss")
			misses = append(misses, id)
			continue
		}
		var vf domain.ViewerFeatures
		if err := json.Unmarshal([]byte(raw), &vf); err != nil {
			slog.Warn("featurestore: corrupt viewer record", slog.String("viewer_id", id), slog.Any("error", err))
			misses = append(misses, id)
			continue
		}
		observability.RecordFeatureStoreRead("l2", "hit")
		applyViewerPatch(&vf, patchCmds[id])
		s.withStripe(id, func() { s.viewerLRU.Add(id, vf) })
		out[id] = vf
	}
	return misses
}

// computeViewerBatch runs L3 compute for each miss, bounded to one in-flight
// computation per id via singleflight. Ids that fail to compute are omitted
// from the result; callers (the ranking pipeline) synthesize defaults.
func (s *Store) computeViewerBatch(ctx domain.Context, ids []string) map[string]domain.ViewerFeatures {
	out := make(map[string]domain.ViewerFeatures, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.sfInFlight.Add(1)
			v, err, _ := s.sf.Do("viewer:"+id, func() (interface{}, error) {
				return s.loadViewerFeatures(ctx, id)
			})
			s.sfInFlight.Add(-1)
			if err != nil {
				slog.Warn("featurestore: viewer compute failed", slog.String("viewer_id", id), slog.Any("error", err))
				return
			}
			mu.Lock()
			out[id] = v.(domain.ViewerFeatures)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

func (s *Store) loadViewerFeatures(ctx domain.Context, id string) (domain.ViewerFeatures, error) {
	now := time.Now()
	vf := domain.ViewerFeatures{
		ViewerID:  id,
		Activity:  domain.ActivityLow,
		CreatedAt: now,
		UpdatedAt: now,
	}
	aggs, err := s.gw.ViewerAggregates(ctx, []string{id}, s.cfg.ViewerWindowDays, s.cfg.MinInteractions)
	if err != nil {
		return vf, fmt.Errorf("op=featurestore.loadViewerFeatures: %w", err)
	}
	if agg, ok := aggs[id]; ok {
		vf.BehaviorScore = clamp(agg.BehaviorScore, 0, 10)
		vf.Activity = activityFromScore(vf.BehaviorScore)
		vf.LastActive = agg.LastActive
	}
	s.writeThroughViewer(ctx, id, vf)
	return vf, nil
}

func (s *Store) writeThroughViewer(ctx domain.Context, id string, vf domain.ViewerFeatures) {
	if s.redis != nil {
		raw, err := json.Marshal(vf)
		if err != nil {
			slog.Warn("featurestore: marshal viewer record failed", slog.String("viewer_id", id), slog.Any("error", err))
		} else if err := s.redis.Set(ctx, viewerKey(id), raw, s.cfg.ViewerTTL).Err(); err != nil {
			slog.Warn("featurestore: L2 viewer write-through failed", slog.String("viewer_id", id), slog.Any("error", err))
		}
	}
	s.withStripe(id, func() { s.viewerLRU.Add(id, vf) })
}

// GetItemBatch reads item features through L1 -> L2 -> L3 in order.
func (s *Store) GetItemBatch(ctx domain.Context, ids []string) (map[string]domain.ItemFeatures, error) {
	ctx, span := tracer.Start(ctx, "featurestore.GetItemBatch")
	defer span.End()

	out := make(map[string]domain.ItemFeatures, len(ids))
	var misses []string
	for _, id := range ids {
		if itf, ok := s.itemLRU.Get(id); ok {
			out[id] = itf
			observability.RecordFeatureStoreRead("l1", "hit")
			continue
		}
		observability.RecordFeatureStoreRead("l1", "miss")
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	l2Misses := s.hydrateItemsFromL2(ctx, misses, out)
	if len(l2Misses) == 0 {
		return out, nil
	}
	for id, itf := range s.computeItemBatch(ctx, l2Misses) {
		out[id] = itf
	}
	return out, nil
}

func (s *Store) hydrateItemsFromL2(ctx domain.Context, ids []string, out map[string]domain.ItemFeatures) []string {
	if s.redis == nil {
		return ids
	}
	pipe := s.redis.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, itemKey(id))
	}
	_, _ = pipe.Exec(ctx)

	var misses []string
	for _, id := range ids {
		raw, err := cmds[id].Result()
		if err != nil {
			observability.RecordFeatureStoreRead("l2", "miss")
			misses = append(misses, id)
			continue
		}
		var itf domain.ItemFeatures
		if err := json.Unmarshal([]byte(raw), &itf); err != nil {
			slog.Warn("featurestore: corrupt item record", slog.String("item_id", id), slog.Any("error", err))
			misses = append(misses, id)
			continue
		}
		observability.RecordFeatureStoreRead("l2", "hit")
		s.withStripe(id, func() { s.itemLRU.Add(id, itf) })
		out[id] = itf
	}
	return misses
}

func (s *Store) computeItemBatch(ctx domain.Context, ids []string) map[string]domain.ItemFeatures {
	out := make(map[string]domain.ItemFeatures, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.sfInFlight.Add(1)
			v, err, _ := s.sf.Do("item:"+id, func() (interface{}, error) {
				return s.loadItemFeatures(ctx, id)
			})
			s.sfInFlight.Add(-1)
			if err != nil {
				slog.Warn("featurestore: item compute failed", slog.String("item_id", id), slog.Any("error", err))
				return
			}
			mu.Lock()
			out[id] = v.(domain.ItemFeatures)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

func (s *Store) loadItemFeatures(ctx domain.Context, id string) (domain.ItemFeatures, error) {
	now := time.Now()
	itf := domain.ItemFeatures{
		ItemID:    id,
		Kind:      domain.KindArticle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	aggs, err := s.gw.ItemAggregates(ctx, []string{id}, s.cfg.ItemWindowDays, s.cfg.MinInteractions)
	if err != nil {
		return itf, fmt.Errorf("op=featurestore.loadItemFeatures: %w", err)
	}
	if agg, ok := aggs[id]; ok {
		itf.PopularityScore = clamp(agg.PopularityScore, 0, 10)
		itf.QualityScore = clamp(agg.EngagementRate*10, 0, 10)
	}
	s.writeThroughItem(ctx, id, itf)
	return itf, nil
}

func (s *Store) writeThroughItem(ctx domain.Context, id string, itf domain.ItemFeatures) {
	if s.redis != nil {
		raw, err := json.Marshal(itf)
		if err != nil {
			slog.Warn("featurestore: marshal item record failed", slog.String("item_id", id), slog.Any("error", err))
		} else if err := s.redis.Set(ctx, itemKey(id), raw, s.cfg.ItemTTL).Err(); err != nil {
			slog.Warn("featurestore: L2 item write-through failed", slog.String("item_id", id), slog.Any("error", err))
		}
	}
	s.withStripe(id, func() { s.itemLRU.Add(id, itf) })
}

// PutViewerBatch writes entries to L2 then L1, and clears any pending
// incremental patch since a fresh full record supersedes it.
func (s *Store) PutViewerBatch(ctx domain.Context, entries map[string]domain.ViewerFeatures) error {
	ctx, span := tracer.Start(ctx, "featurestore.PutViewerBatch")
	defer span.End()
	if len(entries) == 0 {
		return nil
	}
	if s.redis != nil {
		pipe := s.redis.Pipeline()
		for id, vf := range entries {
			raw, err := json.Marshal(vf)
			if err != nil {
				return fmt.Errorf("op=featurestore.PutViewerBatch: marshal %s: %w", id, err)
			}
			pipe.Set(ctx, viewerKey(id), raw, s.cfg.ViewerTTL)
			pipe.Del(ctx, patchKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("featurestore: L2 viewer batch write failed", slog.Any("error", err))
		}
	}
	for id, vf := range entries {
		id, vf := id, vf
		s.withStripe(id, func() { s.viewerLRU.Add(id, vf) })
	}
	return nil
}

// PutItemBatch writes entries to L2 then L1.
func (s *Store) PutItemBatch(ctx domain.Context, entries map[string]domain.ItemFeatures) error {
	ctx, span := tracer.Start(ctx, "featurestore.PutItemBatch")
	defer span.End()
	if len(entries) == 0 {
		return nil
	}
	if s.redis != nil {
		pipe := s.redis.Pipeline()
		for id, itf := range entries {
			raw, err := json.Marshal(itf)
			if err != nil {
				return fmt.Errorf("op=featurestore.PutItemBatch: marshal %s: %w", id, err)
			}
			pipe.Set(ctx, itemKey(id), raw, s.cfg.ItemTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("featurestore: L2 item batch write failed", slog.Any("error", err))
		}
	}
	for id, itf := range entries {
		id, itf := id, itf
		s.withStripe(id, func() { s.itemLRU.Add(id, itf) })
	}
	return nil
}

// PutTrending caches a ranked trending list for kind (or the "all" bucket
// when kind is empty), the trending-hourly job's write sink.
func (s *Store) PutTrending(ctx domain.Context, kind domain.ItemKind, entries []domain.TrendingEntry) error {
	if s.redis == nil {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("op=featurestore.PutTrending: marshal: %w", err)
	}
	if err := s.redis.Set(ctx, trendingKey(kind), raw, s.cfg.TrendingTTL).Err(); err != nil {
		return fmt.Errorf("op=featurestore.PutTrending: %w", err)
	}
	return nil
}

// GetTrending reads the cached trending list for kind. The bool return is
// false on a cache miss (expired TTL or cold start), distinct from an error.
func (s *Store) GetTrending(ctx domain.Context, kind domain.ItemKind) ([]domain.TrendingEntry, bool, error) {
	if s.redis == nil {
		return nil, false, nil
	}
	raw, err := s.redis.Get(ctx, trendingKey(kind)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=featurestore.GetTrending: %w", err)
	}
	var entries []domain.TrendingEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false, fmt.Errorf("op=featurestore.GetTrending: unmarshal: %w", err)
	}
	return entries, true, nil
}

// InvalidateViewer best-effort evicts a viewer's L1 entry.
func (s *Store) InvalidateViewer(viewerID string) {
	s.withStripe(viewerID, func() { s.viewerLRU.Remove(viewerID) })
}

// Stats surfaces cache health for STATS()/HEALTH().
func (s *Store) Stats() domain.FeatureStoreStats {
	stats := domain.FeatureStoreStats{
		L1Keys:       s.viewerLRU.Len() + s.itemLRU.Len(),
		L1Bytes:      int64(s.viewerLRU.Len()*domain.DimViewerVector*4) + int64(s.itemLRU.Len()*domain.DimItemVector*4),
		SingleFlight: int(s.sfInFlight.Load()),
	}
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		stats.L2Reachable = s.redis.Ping(ctx).Err() == nil
	}
	return stats
}
