package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fairyhunter13/recrank/internal/domain"
)

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewError(domain.KindBadInput, "malformed JSON body", err)
	}
	return nil
}

func reqContext(dto *RequestContextDTO, now time.Time) domain.RequestContext {
	rc := domain.RequestContext{Now: now}
	if dto != nil {
		rc.DeviceKind = dto.DeviceKind
		rc.Location = dto.Location
	}
	return rc
}

// handleRank implements the RANK entry point.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req RankRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateRankRequest(req, s.Cfg.MaxCandidates); err != nil {
		writeError(w, err)
		return
	}

	candidates := make([]domain.Candidate, len(req.Candidates))
	for i, c := range req.Candidates {
		candidates[i] = domain.Candidate{
			ItemID:   c.ItemID,
			Kind:     domain.ItemKind(c.Kind),
			Title:    c.Title,
			Category: c.Category,
			Extras:   c.Extras,
		}
	}

	rc := reqContext(req.Context, start)
	maxResults := clampMaxResults(req.MaxResults)

	ranked, err := s.Ranking.Rank(r.Context(), req.ViewerID, candidates, rc, maxResults)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]RankedItemDTO, len(ranked))
	for i, it := range ranked {
		items[i] = RankedItemDTO{
			ItemID:          it.ItemID,
			Kind:            string(it.Kind),
			Title:           it.Title,
			Category:        it.Category,
			RankingScore:    it.RankingScore,
			PopularityScore: it.PopularityScore,
		}
	}

	writeJSON(w, http.StatusOK, RankResponse{
		Items:            items,
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
		Timestamp:        s.now(),
	})
}

// handleFuse implements the FUSE entry point.
func (s *Server) handleFuse(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req FuseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateFuseRequest(req, s.Cfg.MaxAlgorithmResults); err != nil {
		writeError(w, err)
		return
	}

	algoResults := make(map[string]domain.AlgorithmResult, len(req.AlgorithmResults))
	for name, ar := range req.AlgorithmResults {
		items := make([]domain.AlgorithmItem, len(ar.Items))
		for i, it := range ar.Items {
			var publish time.Time
			if it.PublishTime != nil {
				publish = *it.PublishTime
			}
			items[i] = domain.AlgorithmItem{
				ItemID:       it.ItemID,
				RawScore:     it.RawScore,
				Kind:         domain.ItemKind(it.Kind),
				Category:     it.Category,
				AuthorID:     it.AuthorID,
				PublishTime:  publish,
				QualityScore: it.QualityScore,
				ReviewStatus: it.ReviewStatus,
				ViewerRating: it.ViewerRating,
				ViewCount:    it.ViewCount,
				LikeCount:    it.LikeCount,
				ShareCount:   it.ShareCount,
				CommentCount: it.CommentCount,
				Title:        it.Title,
				Description:  it.Description,
			}
		}
		algoResults[name] = domain.AlgorithmResult{AlgorithmName: name, Items: items}
	}

	rc := reqContext(req.Context, start)
	targetSize := clampTargetSize(req.TargetSize)

	fused := s.Fusion.Fuse(r.Context(), req.ViewerID, algoResults, targetSize, rc)

	items := make([]FusedItemDTO, len(fused))
	for i, it := range fused {
		items[i] = FusedItemDTO{
			ItemID:            it.ItemID,
			Kind:              string(it.Kind),
			Title:             it.Title,
			Category:          it.Category,
			FinalScore:        it.FinalScore,
			FusionScore:       it.FusionScore,
			AlgorithmCoverage: it.AlgorithmCoverage,
			ScoreBreakdown: ScoreBreakdownDTO{
				FreshnessBoost:       it.FreshnessBoost,
				PopularityBoost:      it.PopularityBoost,
				PersonalizationBoost: it.PersonalizationBoost,
			},
		}
	}

	writeJSON(w, http.StatusOK, FuseResponse{
		Items:            items,
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
		Timestamp:        s.now(),
	})
}

// handleIngest implements the fire-and-forget INGEST entry point: append to
// the behavior log, then best-effort invalidate and patch the feature store.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateIngestRequest(req); err != nil {
		writeError(w, err)
		return
	}

	ts := start
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	event := domain.BehaviorEvent{
		ViewerID:    req.ViewerID,
		ItemID:      req.ItemID,
		Action:      domain.ActionKind(req.Action),
		Kind:        domain.ItemKind(req.Kind),
		SessionID:   req.SessionID,
		DeviceKind:  req.DeviceKind,
		DurationSec: req.DurationSec,
		Timestamp:   ts,
		Extra:       req.Extra,
	}

	accepted := true
	if err := s.Gateway.AppendBatch(r.Context(), []domain.BehaviorEvent{event}); err != nil {
		accepted = false
	} else {
		s.Features.InvalidateViewer(req.ViewerID)
		_ = s.Features.PatchViewerOnIngest(r.Context(), req.ViewerID, event.Action, ts)
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Accepted:         accepted,
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
		Timestamp:        s.now(),
	})
}

// handleHealth implements HEALTH().
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fsStats := s.Features.Stats()

	resp := HealthResponse{
		ScorerLoaded:   s.Scorer.Loaded(),
		KVReachable:    fsStats.L2Reachable,
		SchedulerAlive: s.Scheduler != nil,
		BatcherAlive:   s.Batcher != nil,
		Timestamp:      s.now(),
	}
	status := http.StatusOK
	if !resp.ScorerLoaded || !resp.KVReachable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleStats implements STATS().
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	bs := s.Batcher.Stats()
	fs := s.Features.Stats()
	jobs := s.Scheduler.Status()

	jobDTOs := make([]JobStatusDTO, len(jobs))
	for i, j := range jobs {
		jobDTOs[i] = JobStatusDTO{
			Name:         j.Name,
			LastRun:      j.LastRun,
			NextRun:      j.NextRun,
			LastSuccess:  j.LastSuccess,
			LastErrors:   j.LastErrors,
			LastDuration: j.LastDuration,
		}
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Batcher: BatcherStatsDTO{
			PendingDepth:    bs.PendingDepth,
			BatchesFlushed:  bs.BatchesFlushed,
			ItemsScored:     bs.ItemsScored,
			Timeouts:        bs.Timeouts,
			Overloads:       bs.Overloads,
			InferenceErrors: bs.InferenceErrors,
		},
		FeatureStore: FeatureStoreStatsDTO{
			L1Keys:       fs.L1Keys,
			L1Bytes:      fs.L1Bytes,
			L2Reachable:  fs.L2Reachable,
			SingleFlight: fs.SingleFlight,
		},
		Scheduler: jobDTOs,
		Timestamp: s.now(),
	})
}
