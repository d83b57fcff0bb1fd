package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// RetentionService purges expired rows from the three analytical tables and
// then issues a compaction hint, grounded on the teacher's
// repo/postgres/cleanup.go CleanupService but generalized to the three
// tables spec.md §6 defines and split into an explicit purge-then-compact
// sequence (Open Question 2: purge before compact).
type RetentionService struct{ Pool PgxPool }

// NewRetentionService constructs a RetentionService over pool.
func NewRetentionService(pool PgxPool) *RetentionService { return &RetentionService{Pool: pool} }

// Purge deletes behaviors older than behaviorDays, feature_vectors older
// than vectorDays, and feature_backups older than backupDays. It returns the
// total number of rows removed across the three tables for the job's
// successCount.
func (s *RetentionService) Purge(ctx domain.Context, behaviorDays, vectorDays, backupDays int) (rowsDeleted int64, err error) {
	ctx, span := otel.Tracer("repo.retention").Start(ctx, "retention.Purge")
	defer span.End()

	now := time.Now()
	tag, err := s.Pool.Exec(ctx, `DELETE FROM behaviors WHERE ts < $1`, now.AddDate(0, 0, -behaviorDays))
	if err != nil {
		return rowsDeleted, fmt.Errorf("op=retention.purge_behaviors: %w", err)
	}
	rowsDeleted += tag.RowsAffected()

	tag, err = s.Pool.Exec(ctx, `DELETE FROM feature_vectors WHERE created_at < $1`, now.AddDate(0, 0, -vectorDays))
	if err != nil {
		return rowsDeleted, fmt.Errorf("op=retention.purge_vectors: %w", err)
	}
	rowsDeleted += tag.RowsAffected()

	tag, err = s.Pool.Exec(ctx, `DELETE FROM feature_backups WHERE backup_at < $1`, now.AddDate(0, 0, -backupDays))
	if err != nil {
		return rowsDeleted, fmt.Errorf("op=retention.purge_backups: %w", err)
	}
	rowsDeleted += tag.RowsAffected()

	span.SetAttributes(attribute.Int64("retention.rows_deleted", rowsDeleted))
	return rowsDeleted, nil
}

// Compact issues the storage engine's optimization hint after a purge
// (ANALYZE is the portable, non-locking choice; a full VACUUM is left to the
// operator's maintenance window). Resolves Open Question 2: purge runs
// first, compaction second.
func (s *RetentionService) Compact(ctx domain.Context) error {
	ctx, span := otel.Tracer("repo.retention").Start(ctx, "retention.Compact")
	defer span.End()
	for _, table := range []string{"behaviors", "feature_vectors", "feature_backups"} {
		if _, err := s.Pool.Exec(ctx, "ANALYZE "+table); err != nil {
			return fmt.Errorf("op=retention.compact: %w", err)
		}
	}
	return nil
}

// PersistVectors writes per-entity vectors to the analytical store's
// feature_vectors table, the matrix-daily job's output sink (spec.md §4.4).
func (s *RetentionService) PersistVectors(ctx domain.Context, entityKind string, vectors map[string][]float32) error {
	ctx, span := otel.Tracer("repo.retention").Start(ctx, "retention.PersistVectors")
	defer span.End()
	now := time.Now().UTC()
	for entityID, vec := range vectors {
		raw, err := marshalVector(vec)
		if err != nil {
			return fmt.Errorf("op=retention.persist_vectors: marshal %s: %w", entityID, err)
		}
		const q = `INSERT INTO feature_vectors (entity_id, entity_kind, vector, created_at) VALUES ($1,$2,$3,$4)
			ON CONFLICT (entity_id, entity_kind) DO UPDATE SET vector=EXCLUDED.vector, created_at=EXCLUDED.created_at`
		if _, err := s.Pool.Exec(ctx, q, entityID, entityKind, raw, now); err != nil {
			return fmt.Errorf("op=retention.persist_vectors: %w", err)
		}
	}
	return nil
}
