package fusion

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/domain"
	"github.com/fairyhunter13/recrank/internal/obs"
)

var tracer = otel.Tracer("usecase.fusion")

const defaultTargetSize = 50

// Pipeline is the C8 orchestrator: weighted fusion, dedup, policy filter,
// MMR diversification, and final boost composition, with a degraded-mode
// fallback on any stage failure.
type Pipeline struct {
	Policy Policy
}

// New constructs a Pipeline bound to policy.
func New(policy Policy) *Pipeline { return &Pipeline{Policy: policy} }

// Fuse merges algorithmResults into a single deduplicated, policy-compliant,
// diversified, boosted sequence capped to targetSize.
func (p *Pipeline) Fuse(ctx domain.Context, viewerID string, algorithmResults map[string]domain.AlgorithmResult, targetSize int, reqCtx domain.RequestContext) []domain.FusedItem {
	ctx, span := tracer.Start(ctx, "fusion.Pipeline.Fuse")
	defer span.End()
	lg := obs.LoggerFromContext(ctx)

	if targetSize <= 0 {
		targetSize = defaultTargetSize
	}
	now := reqCtx.Now
	if now.IsZero() {
		now = time.Now()
	}

	fused, err := p.run(algorithmResults, reqCtx, targetSize, now)
	if err != nil {
		lg.Warn("fusion: stage failure, entering degraded mode", "viewer_id", viewerID, "error", err)
		return p.degraded(algorithmResults, targetSize)
	}
	for _, it := range fused {
		observability.FusionFinalScoreHistogram.Observe(it.FinalScore)
	}
	return fused
}

// run executes stages A through E behind a recover, so that any stage
// panic (e.g. a malformed policy or an unexpected nil map reaching
// arithmetic a stage does not guard against) is converted into an error
// instead of propagating out of Fuse and failing the request whole.
func (p *Pipeline) run(results map[string]domain.AlgorithmResult, reqCtx domain.RequestContext, targetSize int, now time.Time) (out []domain.FusedItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("fusion: stage panic: %v", r)
		}
	}()

	fused := weightedFusion(results, p.Policy)
	if fused == nil {
		return nil, nil
	}
	deduped := dedup(fused, p.Policy)
	filtered := policyFilter(deduped, p.Policy, now)
	diversified := diversify(filtered, p.Policy, targetSize)
	boosted := boostAndSort(diversified, p.Policy, reqCtx, targetSize, now)
	if err := checkFinite(boosted); err != nil {
		return nil, err
	}
	return boosted, nil
}

// checkFinite rejects a NaN or infinite finalScore from Stage E. A malformed
// upstream AlgorithmItem (e.g. a negative view/like/share/comment count
// feeding math.Log1p below -1) can legitimately drive a boost to NaN; that
// is a real stage failure, not a panic, and must route to degraded mode the
// same way a panic does.
func checkFinite(items []domain.FusedItem) error {
	for _, it := range items {
		if math.IsNaN(it.FinalScore) || math.IsInf(it.FinalScore, 0) {
			return fmt.Errorf("fusion: non-finite finalScore for item %q", it.ItemID)
		}
	}
	return nil
}

// degraded returns the first algorithm's results, truncated to targetSize,
// as the safe fallback when a stage fails. "First" is resolved
// deterministically as the lexicographically smallest algorithm name, since
// the input is an unordered map.
func (p *Pipeline) degraded(results map[string]domain.AlgorithmResult, targetSize int) []domain.FusedItem {
	if len(results) == 0 {
		return nil
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	first := results[names[0]].Items
	if len(first) > targetSize {
		first = first[:targetSize]
	}
	out := make([]domain.FusedItem, len(first))
	for i, it := range first {
		out[i] = domain.FusedItem{AlgorithmItem: it, FusionScore: it.RawScore, FinalScore: it.RawScore, AlgorithmCoverage: 1}
	}
	return out
}
