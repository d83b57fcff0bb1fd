package domain

import "time"

//go:generate mockgen -source=ports.go -destination=mocks_test.go -package=domain

// BehaviorLogGateway is the C2 capability: append-only writes plus the five
// canonical aggregation templates. Implementations must be pure reads on the
// query side (spec.md §4.2).
type BehaviorLogGateway interface {
	AppendBatch(ctx Context, events []BehaviorEvent) error
	ViewerAggregates(ctx Context, viewerIDs []string, windowDays int, minInteractions int) (map[string]ViewerAggregates, error)
	ItemAggregates(ctx Context, itemIDs []string, windowDays int, minInteractions int) (map[string]ItemAggregates, error)
	InteractionMatrix(ctx Context, viewerIDs, itemIDs []string, windowDays int) (map[string]map[string]float64, error)
	Trending(ctx Context, kind ItemKind, windowHours int, minInteractions int, limit int) ([]TrendingEntry, error)
	ViewerPatterns(ctx Context, viewerID string) (ViewerPatterns, error)
}

// ViewerPatterns summarizes a viewer's behavioral histograms (spec.md §4.2 #5).
type ViewerPatterns struct {
	HourHistogram    [24]int64
	WeekdayHistogram [7]int64
	ActionHistogram  map[ActionKind]int64
	KindHistogram    map[ItemKind]int64
	DeviceHistogram  map[string]int64
}

// FeatureStore is the C3 capability: tiered cache over viewer/item features.
type FeatureStore interface {
	GetViewerBatch(ctx Context, ids []string) (map[string]ViewerFeatures, error)
	GetItemBatch(ctx Context, ids []string) (map[string]ItemFeatures, error)
	PutViewerBatch(ctx Context, entries map[string]ViewerFeatures) error
	PutItemBatch(ctx Context, entries map[string]ItemFeatures) error
	PatchViewerOnIngest(ctx Context, viewerID string, action ActionKind, at time.Time) error
	InvalidateViewer(viewerID string)
	PutTrending(ctx Context, kind ItemKind, entries []TrendingEntry) error
	GetTrending(ctx Context, kind ItemKind) ([]TrendingEntry, bool, error)
	Stats() FeatureStoreStats
}

// FeatureStoreStats surfaces cache health for STATS()/HEALTH().
type FeatureStoreStats struct {
	L1Keys       int
	L1Bytes      int64
	L2Reachable  bool
	SingleFlight int
}

// Scorer is the C5 opaque capability: batch_predict(features[]) -> score[].
type Scorer interface {
	BatchScore(ctx Context, features [][]float32) ([]float32, error)
	Loaded() bool
}

// ScorerLoader atomically swaps the active Scorer (spec.md §4.5).
type ScorerLoader interface {
	Scorer
	Reload(ctx Context, modelName string) error
}

// Batcher is the C6 capability: coalesce concurrent single-item scoring calls.
type Batcher interface {
	Score(ctx Context, features []float32) (float32, error)
	Stats() BatcherStats
}

// BatcherStats surfaces batcher health for STATS()/HEALTH().
type BatcherStats struct {
	PendingDepth   int
	BatchesFlushed int64
	ItemsScored    int64
	Timeouts       int64
	Overloads      int64
	InferenceErrors int64
}

// Clock provides monotonic-enough wall time, injectable for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Scheduler is the C1 capability: register cron-like jobs and drive them.
type Scheduler interface {
	Register(name string, cadence Cadence, job JobFunc) error
	Start(ctx Context) error
	Stop(ctx Context) error
	Status() []JobStatus
}

// JobFunc is the unit of work a scheduled job executes.
type JobFunc func(ctx Context) (successCount, errorCount int, err error)

// Cadence describes when a job fires next, expressed the way spec.md §4.1
// allows: daily HH:MM, hourly at :MM, weekly on a weekday, or a fixed interval.
type Cadence struct {
	Daily    *ClockTime
	Hourly   *int // minute of the hour
	Weekly   *WeeklyTime
	Interval time.Duration
}

// ClockTime is an hour:minute pair for daily cadences.
type ClockTime struct{ Hour, Minute int }

// WeeklyTime is a weekday+time pair for weekly cadences.
type WeeklyTime struct {
	Weekday time.Weekday
	At      ClockTime
}

// JobStatus reports a scheduled job's last/next run for STATS().
type JobStatus struct {
	Name           string
	LastRun        time.Time
	NextRun        time.Time
	LastSuccess    int
	LastErrors     int
	LastDuration   time.Duration
}
