package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Entity statuses persisted in entity_stats.status.
const (
	EntityRunning   = "running"
	EntityCompleted = "completed"
	EntityFailed    = "error"
)

// EntityDelta holds item counter increments for one entity.
type EntityDelta struct {
	Written int64
	Skipped int64
	Failed  int64
}

// ProgressRepository persists incremental run progress.
type ProgressRepository interface {
	// UpsertRunStart records a run as running.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertEntityStats adds delta to the entity's counters. An empty status
	// leaves the stored status unchanged.
	UpsertEntityStats(ctx context.Context, runID uuid.UUID, entity, status string, delta EntityDelta, at time.Time) error
}
