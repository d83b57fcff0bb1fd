package httpserver

import "time"

// CandidateDTO is the wire shape of a single RANK candidate.
type CandidateDTO struct {
	ItemID   string            `json:"itemId"`
	Kind     string            `json:"kind"`
	Title    string            `json:"title"`
	Category string            `json:"category"`
	Extras   map[string]string `json:"extras,omitempty"`
}

// RequestContextDTO is the wire shape of the optional context block shared
// by RANK and FUSE.
type RequestContextDTO struct {
	DeviceKind string `json:"deviceKind,omitempty"`
	Location   string `json:"location,omitempty"`
}

// RankRequest is the RANK entry point's request body.
type RankRequest struct {
	ViewerID   string             `json:"viewerId"`
	Candidates []CandidateDTO     `json:"candidates"`
	Context    *RequestContextDTO `json:"context,omitempty"`
	MaxResults int                `json:"maxResults,omitempty"`
}

// RankedItemDTO is a single RANK response entry.
type RankedItemDTO struct {
	ItemID          string  `json:"itemId"`
	Kind            string  `json:"kind"`
	Title           string  `json:"title"`
	Category        string  `json:"category"`
	RankingScore    float64 `json:"rankingScore"`
	PopularityScore float64 `json:"popularityScore"`
}

// RankResponse is the RANK entry point's response body.
type RankResponse struct {
	Items             []RankedItemDTO `json:"items"`
	ProcessingTimeMs  int64           `json:"processingTimeMs"`
	Timestamp         time.Time       `json:"timestamp"`
}

// AlgorithmItemDTO is one upstream recommender's entry in a FUSE request.
type AlgorithmItemDTO struct {
	ItemID       string  `json:"itemId"`
	RawScore     float64 `json:"rawScore"`
	Kind         string  `json:"kind"`
	Category     string  `json:"category,omitempty"`
	AuthorID     string  `json:"authorId,omitempty"`
	PublishTime  *time.Time `json:"publishTime,omitempty"`
	QualityScore float64 `json:"qualityScore,omitempty"`
	ReviewStatus string  `json:"reviewStatus,omitempty"`
	ViewerRating float64 `json:"viewerRating,omitempty"`
	ViewCount    int64   `json:"viewCount,omitempty"`
	LikeCount    int64   `json:"likeCount,omitempty"`
	ShareCount   int64   `json:"shareCount,omitempty"`
	CommentCount int64   `json:"commentCount,omitempty"`
	Title        string  `json:"title,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// AlgorithmResultDTO is one upstream recommender's ordered output.
type AlgorithmResultDTO struct {
	Items []AlgorithmItemDTO `json:"items"`
}

// FuseRequest is the FUSE entry point's request body.
type FuseRequest struct {
	ViewerID         string                         `json:"viewerId"`
	AlgorithmResults map[string]AlgorithmResultDTO   `json:"algorithmResults"`
	TargetSize       int                             `json:"targetSize,omitempty"`
	Context          *RequestContextDTO              `json:"context,omitempty"`
}

// FusedItemDTO is a single FUSE response entry, carrying the full score
// breakdown.
type FusedItemDTO struct {
	ItemID            string             `json:"itemId"`
	Kind              string             `json:"kind"`
	Title             string             `json:"title"`
	Category          string             `json:"category,omitempty"`
	FinalScore        float64            `json:"finalScore"`
	FusionScore       float64            `json:"fusionScore"`
	AlgorithmCoverage int                `json:"algorithmCoverage"`
	ScoreBreakdown    ScoreBreakdownDTO  `json:"scoreBreakdown"`
}

// ScoreBreakdownDTO exposes the individual boost components composing finalScore.
type ScoreBreakdownDTO struct {
	FreshnessBoost       float64 `json:"freshnessBoost"`
	PopularityBoost      float64 `json:"popularityBoost"`
	PersonalizationBoost float64 `json:"personalizationBoost"`
}

// FuseResponse is the FUSE entry point's response body.
type FuseResponse struct {
	Items            []FusedItemDTO `json:"items"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	Timestamp        time.Time      `json:"timestamp"`
}

// IngestRequest is the INGEST entry point's request body, mirroring
// domain.BehaviorEvent over the wire.
type IngestRequest struct {
	ViewerID    string            `json:"viewerId"`
	ItemID      string            `json:"itemId"`
	Action      string            `json:"action"`
	Kind        string            `json:"kind"`
	SessionID   string            `json:"sessionId,omitempty"`
	DeviceKind  string            `json:"deviceKind,omitempty"`
	DurationSec float64           `json:"durationSec,omitempty"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// IngestResponse acknowledges a fire-and-forget ingestion.
type IngestResponse struct {
	Accepted         bool      `json:"accepted"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	Timestamp        time.Time `json:"timestamp"`
}

// HealthResponse is the HEALTH() probe's response body.
type HealthResponse struct {
	ScorerLoaded   bool      `json:"scorerLoaded"`
	KVReachable    bool      `json:"kvReachable"`
	SchedulerAlive bool      `json:"schedulerAlive"`
	BatcherAlive   bool      `json:"batcherAlive"`
	Timestamp      time.Time `json:"timestamp"`
}

// StatsResponse is the STATS() probe's response body.
type StatsResponse struct {
	Batcher      BatcherStatsDTO      `json:"batcher"`
	FeatureStore FeatureStoreStatsDTO `json:"featureStore"`
	Scheduler    []JobStatusDTO       `json:"scheduler"`
	Timestamp    time.Time            `json:"timestamp"`
}

// BatcherStatsDTO mirrors domain.BatcherStats over the wire.
type BatcherStatsDTO struct {
	PendingDepth    int   `json:"pendingDepth"`
	BatchesFlushed  int64 `json:"batchesFlushed"`
	ItemsScored     int64 `json:"itemsScored"`
	Timeouts        int64 `json:"timeouts"`
	Overloads       int64 `json:"overloads"`
	InferenceErrors int64 `json:"inferenceErrors"`
}

// FeatureStoreStatsDTO mirrors domain.FeatureStoreStats over the wire.
type FeatureStoreStatsDTO struct {
	L1Keys       int   `json:"l1Keys"`
	L1Bytes      int64 `json:"l1Bytes"`
	L2Reachable  bool  `json:"l2Reachable"`
	SingleFlight int   `json:"singleFlight"`
}

// JobStatusDTO mirrors domain.JobStatus over the wire.
type JobStatusDTO struct {
	Name         string        `json:"name"`
	LastRun      time.Time     `json:"lastRun"`
	NextRun      time.Time     `json:"nextRun"`
	LastSuccess  int           `json:"lastSuccess"`
	LastErrors   int           `json:"lastErrors"`
	LastDuration time.Duration `json:"lastDurationNs"`
}
