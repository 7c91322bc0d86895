package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/progress"
	"github.com/JakeFAU/autoharvest/internal/store"
)

// StoreSink persists run lifecycle and per-entity item counters through a
// store.ProgressRepository. Item events are collapsed per batch.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type entityKey struct {
	runID  uuid.UUID
	entity string
}

type entityDelta struct {
	delta  store.EntityDelta
	status string
	at     time.Time
}

// Consume writes run transitions immediately and entity counters once per batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[entityKey]*entityDelta)
	var order []entityKey

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone:
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageRunError:
			note := evt.Note
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, &note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageEntityStart, progress.StageEntityDone, progress.StageEntityError, progress.StageItemDone:
			key := entityKey{runID: runID, entity: evt.Entity}
			d, ok := deltas[key]
			if !ok {
				d = &entityDelta{}
				deltas[key] = d
				order = append(order, key)
			}
			applyEntityEvent(d, evt)
		}
	}

	for _, key := range order {
		d := deltas[key]
		if err := s.repo.UpsertEntityStats(ctx, key.runID, key.entity, d.status, d.delta, d.at); err != nil {
			return fmt.Errorf("upsert entity stats: %w", err)
		}
	}
	return nil
}

func applyEntityEvent(d *entityDelta, evt progress.Event) {
	switch evt.Stage {
	case progress.StageEntityStart:
		d.status = store.EntityRunning
	case progress.StageEntityDone:
		d.status = store.EntityCompleted
	case progress.StageEntityError:
		d.status = store.EntityFailed
	case progress.StageItemDone:
		switch evt.Outcome {
		case progress.OutcomeWritten:
			d.delta.Written++
		case progress.OutcomeSkipped:
			d.delta.Skipped++
		case progress.OutcomeFailed:
			d.delta.Failed++
		}
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
