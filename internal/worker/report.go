package worker

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"go.uber.org/zap"
)

// Report summarizes a harvest run.
type Report struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Discovered   int       `json:"discovered"`
	Completed    []string  `json:"completed"`
	Incomplete   []string  `json:"incomplete"`
	Failed       []string  `json:"failed"`
	ItemsWritten int       `json:"items_written"`
	ItemsSkipped int       `json:"items_skipped"`
	ItemsFailed  int       `json:"items_failed"`
	Error        string    `json:"error,omitempty"`
	// Location is where the report was stored, if anywhere.
	Location string `json:"-"`
}

func (r *Report) add(o EntityOutcome) {
	switch o.State {
	case StateCompleted:
		r.Completed = append(r.Completed, o.Entity)
	case StateError:
		r.Failed = append(r.Failed, o.Entity)
	default:
		r.Incomplete = append(r.Incomplete, o.Entity)
	}
	r.ItemsWritten += o.Written
	r.ItemsSkipped += o.Skipped
	r.ItemsFailed += o.Failed
}

func (r *Report) log(logger *zap.Logger) {
	logger.Info("harvest finished",
		zap.String("run_id", r.RunID),
		zap.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
		zap.Int("discovered", r.Discovered),
		zap.Int("completed", len(r.Completed)),
		zap.Int("incomplete", len(r.Incomplete)),
		zap.Int("failed", len(r.Failed)),
		zap.Int("items_written", r.ItemsWritten),
		zap.Int("items_skipped", r.ItemsSkipped),
		zap.Int("items_failed", r.ItemsFailed),
	)
}

func (e *Engine) storeReport(ctx context.Context, r *Report) {
	if e.deps.Reports == nil {
		return
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		e.logger.Warn("encode run report failed", zap.Error(err))
		return
	}
	uri, err := e.deps.Reports.PutObject(ctx, path.Join(e.cfg.ReportDir, r.RunID+".json"), "application/json", data)
	if err != nil {
		e.logger.Warn("store run report failed", zap.Error(err))
		return
	}
	r.Location = uri
	e.logger.Info("run report stored", zap.String("uri", uri))
}
