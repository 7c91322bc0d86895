// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/autoharvest/internal/store"
)

// Schema creates the tables written by ProgressStore.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	error_message text
);
CREATE TABLE IF NOT EXISTS entity_stats (
	run_id        uuid NOT NULL REFERENCES crawl_runs (id),
	entity        text NOT NULL,
	status        text NOT NULL,
	items_written bigint NOT NULL DEFAULT 0,
	items_skipped bigint NOT NULL DEFAULT 0,
	items_failed  bigint NOT NULL DEFAULT 0,
	last_update   timestamptz NOT NULL,
	PRIMARY KEY (run_id, entity)
);`

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool execCloser
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore connects to Postgres and ensures the schema exists.
func NewProgressStore(ctx context.Context, cfg StoreConfig) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &ProgressStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool execCloser) (*ProgressStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a running row for the run.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// UpsertEntityStats adds item counters for one entity of a run.
func (s *ProgressStore) UpsertEntityStats(
	ctx context.Context,
	runID uuid.UUID,
	entity string,
	status string,
	delta store.EntityDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO entity_stats (run_id, entity, status, items_written, items_skipped, items_failed, last_update)
		VALUES ($1, $2, COALESCE(NULLIF($3::text, ''), 'running'), $4, $5, $6, $7)
		ON CONFLICT (run_id, entity) DO UPDATE SET
			status = COALESCE(NULLIF($3::text, ''), entity_stats.status),
			items_written = entity_stats.items_written + EXCLUDED.items_written,
			items_skipped = entity_stats.items_skipped + EXCLUDED.items_skipped,
			items_failed = entity_stats.items_failed + EXCLUDED.items_failed,
			last_update = GREATEST(entity_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(ctx, query, runID, entity, status, delta.Written, delta.Skipped, delta.Failed, at)
	if err != nil {
		return fmt.Errorf("upsert entity stats: %w", err)
	}
	return nil
}
