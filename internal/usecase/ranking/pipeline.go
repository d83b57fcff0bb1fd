// Package ranking implements the C7 ranking pipeline: hydrate viewer and
// item features, project request context, score every candidate through the
// inference batcher, and return a deterministically sorted, capped sequence.
package ranking

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/domain"
	"github.com/fairyhunter13/recrank/internal/obs"
)

var tracer = otel.Tracer("usecase.ranking")

const defaultMaxResults = 100

// Pipeline is the C7 orchestrator.
type Pipeline struct {
	Features domain.FeatureStore
	Batcher  domain.Batcher
}

// New constructs a Pipeline.
func New(features domain.FeatureStore, batcher domain.Batcher) *Pipeline {
	return &Pipeline{Features: features, Batcher: batcher}
}

// Rank reorders candidates by descending rankingScore. maxResults is clamped
// to [1,100]; a zero or negative value defaults to 100.
func (p *Pipeline) Rank(ctx domain.Context, viewerID string, candidates []domain.Candidate, reqCtx domain.RequestContext, maxResults int) ([]domain.RankedItem, error) {
	ctx, span := tracer.Start(ctx, "ranking.Pipeline.Rank")
	defer span.End()
	lg := obs.LoggerFromContext(ctx)

	if maxResults <= 0 || maxResults > defaultMaxResults {
		maxResults = defaultMaxResults
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	vf := p.hydrateViewer(ctx, viewerID, lg)
	itemFeatures := p.hydrateItems(ctx, candidates, lg)
	ctxFeat := projectContext(reqCtx)

	ranked := make([]domain.RankedItem, len(candidates))
	var fatal atomic.Bool
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand domain.Candidate) {
			defer wg.Done()
			itf := itemFeatures[cand.ItemID]
			row := assembleFeatures(vf, itf, ctxFeat)
			score, err := p.Batcher.Score(ctx, row)
			item := domain.RankedItem{Candidate: cand, PopularityScore: itf.PopularityScore}
			if err != nil {
				if domain.KindOf(err) == domain.KindServiceUnavailable {
					fatal.Store(true)
				} else {
					lg.Warn("ranking: candidate scoring failed, using 0.0",
						slog.String("item_id", cand.ItemID), slog.Any("error", err))
				}
				item.RankingScore = 0.0
			} else {
				item.RankingScore = float64(score)
				observability.RankingScoreHistogram.Observe(item.RankingScore)
			}
			ranked[i] = item
		}(i, cand)
	}
	wg.Wait()

	if fatal.Load() {
		return nil, domain.NewError(domain.KindServiceUnavailable, "scorer unavailable", domain.ErrScorerUnavailable)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RankingScore != b.RankingScore {
			return a.RankingScore > b.RankingScore
		}
		if a.PopularityScore != b.PopularityScore {
			return a.PopularityScore > b.PopularityScore
		}
		return a.ItemID < b.ItemID
	})

	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	return ranked, nil
}

func (p *Pipeline) hydrateViewer(ctx domain.Context, viewerID string, lg *slog.Logger) domain.ViewerFeatures {
	vfMap, err := p.Features.GetViewerBatch(ctx, []string{viewerID})
	if err != nil {
		lg.Warn("ranking: viewer hydration error, using defaults", slog.String("viewer_id", viewerID), slog.Any("error", err))
	}
	if vf, ok := vfMap[viewerID]; ok {
		return vf
	}
	// Miss: synthesize defaults and kick off a best-effort async refresh so
	// the next request for this viewer is more likely to hit L1/L2.
	go func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := p.Features.GetViewerBatch(refreshCtx, []string{viewerID}); err != nil {
			lg.Warn("ranking: async viewer refresh failed", slog.String("viewer_id", viewerID), slog.Any("error", err))
		}
	}()
	return domain.ViewerFeatures{ViewerID: viewerID, Activity: domain.ActivityLow}
}

func (p *Pipeline) hydrateItems(ctx domain.Context, candidates []domain.Candidate, lg *slog.Logger) map[string]domain.ItemFeatures {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ItemID
	}
	itemMap, err := p.Features.GetItemBatch(ctx, ids)
	if err != nil {
		lg.Warn("ranking: item hydration error, using defaults", slog.Any("error", err))
		itemMap = map[string]domain.ItemFeatures{}
	}
	for _, c := range candidates {
		if _, ok := itemMap[c.ItemID]; !ok {
			itemMap[c.ItemID] = domain.ItemFeatures{ItemID: c.ItemID, Kind: c.Kind, Category: c.Category, Title: c.Title}
		}
	}
	return itemMap
}
