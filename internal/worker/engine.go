// Package worker runs a harvest: it drives discovery over the listing and
// walks each discovered entity through its traversal state machine, one
// entity and one item at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/extract"
	"github.com/JakeFAU/autoharvest/internal/frontier"
	"github.com/JakeFAU/autoharvest/internal/progress"
)

// DefaultTopic is the topic entity-completed notifications are published to.
const DefaultTopic = "entity-completed"

// Mode selects what is harvested from each entity.
type Mode string

// Harvest modes.
const (
	// ModeReviews walks the entity's section pages and writes one row per
	// item leaf.
	ModeReviews Mode = "reviews"
	// ModeParams opens the card's parameter table and writes one row per
	// table column.
	ModeParams Mode = "params"
)

// Config controls traversal behavior.
type Config struct {
	// Mode defaults to ModeReviews.
	Mode Mode
	// SectionName is the sub-section link opened on every detail page.
	SectionName string
	// MaxPages bounds the pages walked per entity. Zero means unbounded.
	MaxPages int
	// Unknown is the sentinel author value; it never matches the cursor.
	Unknown string
	// AuthorColumn names the column whose last value in a table is also
	// treated as a resume cursor. In ModeParams it is the variant name
	// column.
	AuthorColumn string
	// Interleave traverses each discovery batch before scrolling further.
	Interleave bool
	// Topic receives entity-completed notifications.
	Topic string
	// ReportDir is the blob path prefix for run reports.
	ReportDir string
	// RunID fixes the id of the next run. The zero value generates a v7 id.
	RunID uuid.UUID
}

// Discoverer produces the frontier of entities to traverse.
type Discoverer interface {
	Run(ctx context.Context, onBatch frontier.BatchFunc) (*frontier.Frontier, error)
}

// Deps are the collaborators of an Engine. Listing, Discovery, Ledger, and
// Sink are required, plus Adapter for ModeReviews or TableAdapter and a
// crawler.ParamsListing for ModeParams.
type Deps struct {
	Listing      crawler.Listing
	Discovery    Discoverer
	Ledger       crawler.Ledger
	Sink         crawler.Sink
	Adapter      crawler.Adapter
	TableAdapter crawler.TableAdapter
	Capturer     crawler.Capturer
	Emitter      progress.Emitter
	Publisher    crawler.Publisher
	Reports      crawler.BlobStore
	Clock        crawler.Clock
	Logger       *zap.Logger
}

// Engine executes harvest runs.
type Engine struct {
	cfg  Config
	deps Deps

	logger *zap.Logger
	runID  uuid.UUID
}

// New validates deps and constructs an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Listing == nil:
		return nil, errors.New("listing is required")
	case deps.Discovery == nil:
		return nil, errors.New("discovery is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Sink == nil:
		return nil, errors.New("sink is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeReviews
	}
	switch cfg.Mode {
	case ModeReviews:
		if deps.Adapter == nil {
			return nil, errors.New("adapter is required")
		}
	case ModeParams:
		if deps.TableAdapter == nil {
			return nil, errors.New("table adapter is required")
		}
		if _, ok := deps.Listing.(crawler.ParamsListing); !ok {
			return nil, fmt.Errorf("listing %T cannot open parameter tables", deps.Listing)
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0, got %d", cfg.MaxPages)
	}
	if cfg.Unknown == "" {
		cfg.Unknown = "unknown"
	}
	if cfg.AuthorColumn == "" {
		cfg.AuthorColumn = extract.DefaultAuthorColumn
		if cfg.Mode == ModeParams {
			cfg.AuthorColumn = extract.DefaultNameColumn
		}
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = "reports"
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: deps.Logger.Named("worker")}, nil
}

// RunID returns the id of the current or last run.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Run performs one harvest. Unit failures are isolated and recorded in the
// report; the returned error is non-nil only when the run could not keep its
// persistence guarantees or was canceled.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID := e.cfg.RunID
	if runID == uuid.Nil {
		var err error
		if runID, err = uuid.NewV7(); err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
	}
	e.runID = runID
	report := &Report{RunID: runID.String(), StartedAt: e.deps.Clock.Now()}
	e.emit(progress.Event{Stage: progress.StageRunStart})
	e.logger.Info("harvest started", zap.String("run_id", report.RunID))

	var fatal error
	traverse := func(ctx context.Context, entry frontier.Entry) {
		if fatal != nil || ctx.Err() != nil {
			return
		}
		outcome, err := e.traverse(ctx, entry)
		report.add(outcome)
		if err != nil {
			fatal = err
		}
	}

	var onBatch frontier.BatchFunc
	if e.cfg.Interleave {
		onBatch = func(ctx context.Context, batch []frontier.Entry) {
			for _, entry := range batch {
				traverse(ctx, entry)
			}
		}
	}

	f, discErr := e.deps.Discovery.Run(ctx, onBatch)
	if discErr != nil {
		e.logger.Warn("discovery ended early", zap.Error(discErr))
	}
	if f != nil {
		report.Discovered = f.Len()
		if !e.cfg.Interleave {
			for _, entry := range f.Entries() {
				traverse(ctx, entry)
			}
		}
	}

	runErr := fatal
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("harvest interrupted: %w", ctx.Err())
	}
	report.FinishedAt = e.deps.Clock.Now()
	if runErr != nil {
		report.Error = runErr.Error()
		e.emit(progress.Event{Stage: progress.StageRunError, Note: runErr.Error()})
	} else {
		e.emit(progress.Event{Stage: progress.StageRunDone, Dur: report.FinishedAt.Sub(report.StartedAt)})
	}
	report.log(e.logger)
	e.storeReport(context.WithoutCancel(ctx), report)
	return report, runErr
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(e.runID)
	if evt.TS.IsZero() {
		evt.TS = e.deps.Clock.Now()
	}
	e.deps.Emitter.Emit(evt)
}

// EntityCompleted is the payload published when an entity finishes.
type EntityCompleted struct {
	RunID        string    `json:"run_id"`
	Entity       string    `json:"entity"`
	Table        string    `json:"table"`
	ItemsWritten int       `json:"items_written"`
	CompletedAt  time.Time `json:"completed_at"`
}

type pathResolver interface {
	Path(table string) string
}

func (e *Engine) publishCompleted(ctx context.Context, outcome EntityOutcome) {
	if e.deps.Publisher == nil {
		return
	}
	table := outcome.Entity
	if pr, ok := e.deps.Sink.(pathResolver); ok {
		table = pr.Path(outcome.Entity)
	}
	payload := EntityCompleted{
		RunID:        e.runID.String(),
		Entity:       outcome.Entity,
		Table:        table,
		ItemsWritten: outcome.Written,
		CompletedAt:  e.deps.Clock.Now(),
	}
	id, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, payload)
	if err != nil {
		e.logger.Warn("publish entity completed failed", zap.String("entity", outcome.Entity), zap.Error(err))
		return
	}
	e.logger.Debug("published entity completed", zap.String("entity", outcome.Entity), zap.String("message_id", id))
}
