package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/recrank/internal/domain"
	"github.com/fairyhunter13/recrank/internal/usecase/behaviorlog"
)

var tracer = otel.Tracer("repo.behaviors")

// BehaviorRepo is the C2 behavior log gateway's storage adapter: append via
// pgx.Batch, reads as one filtered SQL fetch per window followed by the
// canonical aggregation functions in usecase/behaviorlog, grounded on the
// teacher's pgx-pool-and-explicit-SQL jobs_repo.go style.
type BehaviorRepo struct{ Pool PgxPool }

// NewBehaviorRepo constructs a BehaviorRepo over the given pool.
func NewBehaviorRepo(p PgxPool) *BehaviorRepo { return &BehaviorRepo{Pool: p} }

// AppendBatch appends events using pgx's native batching primitive rather
// than a hand-rolled multi-row INSERT string (spec.md §4.2).
func (r *BehaviorRepo) AppendBatch(ctx domain.Context, events []domain.BehaviorEvent) error {
	ctx, span := tracer.Start(ctx, "behaviors.AppendBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "behaviors"),
		attribute.Int("behaviors.count", len(events)),
	)
	if len(events) == 0 {
		return nil
	}
	const q = `INSERT INTO behaviors (viewer_id, item_id, action, kind, session_id, device_kind, duration_sec, ts, extra)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	batch := &pgx.Batch{}
	for _, e := range events {
		extra, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("op=behaviors.append_batch: marshal extra: %w", err)
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		batch.Queue(q, e.ViewerID, e.ItemID, string(e.Action), string(e.Kind), e.SessionID, e.DeviceKind, e.DurationSec, ts, extra)
	}
	results := r.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("op=behaviors.append_batch: %w", err)
		}
	}
	return nil
}

// fetchWindow loads the raw rows for a window, optionally filtered to a set
// of viewer or item ids, for the aggregation templates to roll up in Go.
func (r *BehaviorRepo) fetchWindow(ctx domain.Context, since time.Time, viewerIDs, itemIDs []string) ([]domain.BehaviorEvent, error) {
	q := `SELECT viewer_id, item_id, action, kind, session_id, device_kind, duration_sec, ts FROM behaviors WHERE ts >= $1`
	args := []any{since}
	if len(viewerIDs) > 0 {
		args = append(args, viewerIDs)
		q += fmt.Sprintf(" AND viewer_id = ANY($%d)", len(args))
	}
	if len(itemIDs) > 0 {
		args = append(args, itemIDs)
		q += fmt.Sprintf(" AND item_id = ANY($%d)", len(args))
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=behaviors.fetch_window: %w", err)
	}
	defer rows.Close()

	var out []domain.BehaviorEvent
	for rows.Next() {
		var e domain.BehaviorEvent
		var action, kind string
		if err := rows.Scan(&e.ViewerID, &e.ItemID, &action, &kind, &e.SessionID, &e.DeviceKind, &e.DurationSec, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("op=behaviors.fetch_window_scan: %w", err)
		}
		e.Action = domain.ActionKind(action)
		e.Kind = domain.ItemKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=behaviors.fetch_window_rows: %w", err)
	}
	return out, nil
}

// ViewerAggregates implements spec.md §4.2 template 1.
func (r *BehaviorRepo) ViewerAggregates(ctx domain.Context, viewerIDs []string, windowDays, minInteractions int) (map[string]domain.ViewerAggregates, error) {
	ctx, span := tracer.Start(ctx, "behaviors.ViewerAggregates")
	defer span.End()
	since := time.Now().AddDate(0, 0, -windowDays)
	events, err := r.fetchWindow(ctx, since, viewerIDs, nil)
	if err != nil {
		return nil, fmt.Errorf("op=behaviors.viewer_aggregates: %w", err)
	}
	return behaviorlog.ViewerAggregates(events, time.Now(), minInteractions), nil
}

// ItemAggregates implements spec.md §4.2 template 2.
func (r *BehaviorRepo) ItemAggregates(ctx domain.Context, itemIDs []string, windowDays, minInteractions int) (map[string]domain.ItemAggregates, error) {
	ctx, span := tracer.Start(ctx, "behaviors.ItemAggregates")
	defer span.End()
	since := time.Now().AddDate(0, 0, -windowDays)
	events, err := r.fetchWindow(ctx, since, nil, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("op=behaviors.item_aggregates: %w", err)
	}
	return behaviorlog.ItemAggregates(events, time.Now(), minInteractions), nil
}

// InteractionMatrix implements spec.md §4.2 template 3.
func (r *BehaviorRepo) InteractionMatrix(ctx domain.Context, viewerIDs, itemIDs []string, windowDays int) (map[string]map[string]float64, error) {
	ctx, span := tracer.Start(ctx, "behaviors.InteractionMatrix")
	defer span.End()
	since := time.Now().AddDate(0, 0, -windowDays)
	events, err := r.fetchWindow(ctx, since, viewerIDs, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("op=behaviors.interaction_matrix: %w", err)
	}
	return behaviorlog.InteractionMatrix(events), nil
}

// Trending implements spec.md §4.2 template 4.
func (r *BehaviorRepo) Trending(ctx domain.Context, kind domain.ItemKind, windowHours, minInteractions, limit int) ([]domain.TrendingEntry, error) {
	ctx, span := tracer.Start(ctx, "behaviors.Trending")
	defer span.End()
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	events, err := r.fetchWindow(ctx, since, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("op=behaviors.trending: %w", err)
	}
	return behaviorlog.Trending(events, kind, minInteractions, limit, time.Now()), nil
}

// ViewerPatterns implements spec.md §4.2 template 5.
func (r *BehaviorRepo) ViewerPatterns(ctx domain.Context, viewerID string) (domain.ViewerPatterns, error) {
	ctx, span := tracer.Start(ctx, "behaviors.ViewerPatterns")
	defer span.End()
	events, err := r.fetchWindow(ctx, time.Time{}, []string{viewerID}, nil)
	if err != nil {
		return domain.ViewerPatterns{}, fmt.Errorf("op=behaviors.viewer_patterns: %w", err)
	}
	return behaviorlog.ViewerPatterns(events), nil
}
