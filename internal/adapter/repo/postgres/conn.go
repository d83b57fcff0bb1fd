// Package postgres implements the C2 behavior log gateway's storage: an
// append-only behaviors table plus the derived feature_vectors and
// feature_backups tables of spec.md §6, accessed through a minimal pgx pool
// interface so the aggregation SQL is unit-testable without a live database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing,
// matching the teacher's uploads_repo.go shape.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewPool creates a pgx connection pool from the provided DSN with the
// teacher's sane connection defaults.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	return pool, nil
}

// schemaDDL creates the three tables spec.md §6 presents as logical schemas
// if they do not already exist. There is no migration tool in this stack;
// the gateway ensures its own schema on startup, the same "no ORM, explicit
// SQL" discipline the teacher's repos use elsewhere.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS behaviors (
	viewer_id    TEXT NOT NULL,
	item_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	device_kind  TEXT NOT NULL DEFAULT '',
	duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
	ts           TIMESTAMPTZ NOT NULL,
	extra        JSONB
);
CREATE INDEX IF NOT EXISTS behaviors_viewer_ts_idx ON behaviors (viewer_id, ts);
CREATE INDEX IF NOT EXISTS behaviors_item_ts_idx ON behaviors (item_id, ts);
CREATE INDEX IF NOT EXISTS behaviors_ts_idx ON behaviors (ts);

CREATE TABLE IF NOT EXISTS feature_vectors (
	entity_id   TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	vector      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, entity_kind)
);

CREATE TABLE IF NOT EXISTS feature_backups (
	entity_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	backup_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS feature_backups_backup_at_idx ON feature_backups (backup_at);
`

// EnsureSchema creates the behavior log's tables if they are absent.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
	}
	return nil
}
