// Package domain defines core entities, ports, and domain-specific errors
// for the ranking and fusion tier.
package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// ItemKind enumerates the closed set of content kinds the system ranks.
type ItemKind string

// Item kind values.
const (
	KindArticle ItemKind = "article"
	KindVideo   ItemKind = "video"
	KindProduct ItemKind = "product"
)

// ActionKind enumerates the closed set of viewer actions recorded in the behavior log.
type ActionKind string

// Action kind values.
const (
	ActionView    ActionKind = "view"
	ActionClick   ActionKind = "click"
	ActionLike    ActionKind = "like"
	ActionShare   ActionKind = "share"
	ActionComment ActionKind = "comment"
	ActionBuy     ActionKind = "purchase"
)

// ActionWeights is the fixed weight table used by aggregate scoring (spec.md §3).
var ActionWeights = map[ActionKind]float64{
	ActionView:    1,
	ActionClick:   2,
	ActionLike:    3,
	ActionShare:   4,
	ActionComment: 3.5,
	ActionBuy:     5,
}

// BehaviorEvent is an immutable record of a viewer acting on an item.
type BehaviorEvent struct {
	ViewerID    string
	ItemID      string
	Action      ActionKind
	Kind        ItemKind
	SessionID   string
	DeviceKind  string
	DurationSec float64
	Timestamp   time.Time
	Extra       map[string]string
}

// Activity buckets a viewer's recent engagement level.
type Activity string

// Activity values.
const (
	ActivityLow    Activity = "low"
	ActivityMedium Activity = "medium"
	ActivityHigh   Activity = "high"
)

// DimViewerVector is the fixed vector width for viewer features (D_u).
const DimViewerVector = 64

// DimItemVector is the fixed vector width for item features (D_c).
const DimItemVector = 128

// ViewerFeatures is the hydrated, cached feature record for a viewer.
type ViewerFeatures struct {
	ViewerID        string
	AgeBucket       string
	Gender          string
	Interests       []string
	BehaviorScore   float64
	Activity        Activity
	PreferredKinds  []ItemKind
	LastActive      time.Time
	Vector          [DimViewerVector]float32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemFeatures is the hydrated, cached feature record for an item.
type ItemFeatures struct {
	ItemID          string
	Kind            ItemKind
	Title           string
	Category        string
	Tags            []string
	AuthorID        string
	PublishTime     time.Time
	QualityScore    float64
	PopularityScore float64
	TextFeatures    map[string]float64
	Vector          [DimItemVector]float32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemAggregates is the derived per-item rollup computed by the offline aggregator (window W_c).
type ItemAggregates struct {
	ItemID          string
	ActionCounts    map[ActionKind]int64
	UniqueViewers   int64
	CTR             float64
	LikeRate        float64
	ShareRate       float64
	EngagementRate  float64
	UserDiversity   float64
	PopularityScore float64
	ComputedAt      time.Time
}

// ViewerAggregates is the derived per-viewer rollup computed by the offline aggregator (window W_u).
type ViewerAggregates struct {
	ViewerID       string
	ActionCounts   map[ActionKind]int64
	KindCounts     map[ItemKind]int64
	ActiveDays     int64
	AvgDuration    float64
	BehaviorScore  float64
	DailyAvgActions float64
	LastActive     time.Time
	ComputedAt     time.Time
}

// AlgorithmItem is a single ranked entry contributed by an upstream recommender.
type AlgorithmItem struct {
	ItemID       string
	RawScore     float64
	Kind         ItemKind
	Category     string
	AuthorID     string
	PublishTime  time.Time
	QualityScore float64
	ReviewStatus string
	ViewerRating float64
	ViewCount    int64
	LikeCount    int64
	ShareCount   int64
	CommentCount int64
	Title        string
	Description  string
}

// AlgorithmResult is one upstream recommender's ordered output.
type AlgorithmResult struct {
	AlgorithmName string
	Items         []AlgorithmItem
}

// TrendingEntry is one item in a per-kind trending list.
type TrendingEntry struct {
	ItemID     string
	Kind       ItemKind
	Score      float64
	ComputedAt time.Time
}

// Candidate is a single item offered to the ranking pipeline.
type Candidate struct {
	ItemID   string
	Kind     ItemKind
	Title    string
	Category string
	Extras   map[string]string
}

// RankedItem is a candidate after scoring, carrying its final rankingScore.
type RankedItem struct {
	Candidate
	RankingScore    float64
	PopularityScore float64
}

// RequestContext carries the contextual signals the ranking and fusion
// pipelines project into features (spec.md §4.7 step 3).
type RequestContext struct {
	Now        time.Time
	DeviceKind string
	Location   string
}

// FusedItem is a single item surviving the fusion/rerank pipeline, carrying
// every score component the request surface exposes.
type FusedItem struct {
	AlgorithmItem
	FusionScore          float64
	FinalScore           float64
	FreshnessBoost       float64
	PopularityBoost      float64
	PersonalizationBoost float64
	AlgorithmCoverage    int
}
