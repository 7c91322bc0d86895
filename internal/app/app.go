// Package app initializes and holds the long-lived services of a harvest: the
// progress ledger, the record sink, blob storage, notifications, and the
// progress event hub.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/config"
	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/diagnostics"
	"github.com/JakeFAU/autoharvest/internal/ledger"
	"github.com/JakeFAU/autoharvest/internal/progress"
	"github.com/JakeFAU/autoharvest/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/autoharvest/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/autoharvest/internal/publisher/pubsub"
	"github.com/JakeFAU/autoharvest/internal/sink"
	"github.com/JakeFAU/autoharvest/internal/storage/gcs"
	"github.com/JakeFAU/autoharvest/internal/storage/local"
	"github.com/JakeFAU/autoharvest/internal/storage/memory"
	"github.com/JakeFAU/autoharvest/internal/storage/postgres"
)

// App holds the shared services of one process.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	ledger    *ledger.Ledger
	sink      *sink.CSVSink
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	hub       *progress.Hub

	closers []func(context.Context) error
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Ledger returns the loaded progress ledger.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Sink returns the CSV record sink.
func (a *App) Sink() *sink.CSVSink { return a.sink }

// Blobs returns the blob store used for diagnostics and run reports.
func (a *App) Blobs() crawler.BlobStore { return a.blobs }

// Publisher returns the entity-completed publisher.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// Emitter returns the progress emitter; it discards events when progress
// reporting is disabled.
func (a *App) Emitter() progress.Emitter {
	if a.hub == nil {
		return progress.Discard{}
	}
	return a.hub
}

// Capturer returns the diagnostic hook for runID, or nil when diagnostics
// are disabled.
func (a *App) Capturer(runID string) crawler.Capturer {
	if !a.cfg.Diagnostics.Enabled {
		return nil
	}
	c := diagnostics.New(a.blobs, diagnostics.Config{
		Prefix:  a.cfg.Diagnostics.Prefix,
		Timeout: a.cfg.Diagnostics.Timeout,
	}, crawler.SystemClock{}, a.logger)
	return c.ForRun(runID)
}

// New creates the services described by cfg. Ledger corruption is reported
// as ledger.ErrCorrupt.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("output_dir", cfg.Crawler.OutputDir),
		zap.Bool("progress", a.hub != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	l, closeLedger, err := OpenLedger(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.ledger = l
	a.closers = append(a.closers, closeLedger)

	a.sink, err = sink.NewCSVSink(a.cfg.Crawler.OutputDir, a.cfg.Crawler.TableSuffix, a.logger)
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}

	if err := a.initBlobs(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}
	return a.initProgress(ctx)
}

// OpenLedger opens the configured ledger backend and loads it. The returned
// func releases the backend's connection.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ledger.Ledger, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		backend ledger.Backend
		closeFn = func(context.Context) error { return nil }
	)
	switch cfg.Ledger.Backend {
	case "redis":
		rb, client, err := ledger.NewRedisBackend(ctx, ledger.RedisOptions{
			Addr:     cfg.Ledger.Redis.Addr,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
			Key:      cfg.Ledger.Redis.Key,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis ledger: %w", err)
		}
		backend = rb
		closeFn = func(context.Context) error { return client.Close() }
	case "file", "":
		fb, err := ledger.NewFileBackend(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("init file ledger: %w", err)
		}
		backend = fb
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	l, err := ledger.Open(ctx, backend, logger)
	if err != nil {
		_ = closeFn(ctx)
		if errors.Is(err, ledger.ErrCorrupt) {
			logger.Error("progress ledger is corrupt; refusing to start", zap.String("location", backend.Location()), zap.Error(err))
		}
		return nil, nil, err
	}
	return l, closeFn, nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.cfg.Diagnostics.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Diagnostics.GCS.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.blobs = store
	case "memory":
		a.blobs = memory.NewBlobStore()
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Diagnostics.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.blobs = store
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.publisher = memorypublisher.New(a.logger)
		return nil
	}
	pub, err := pubsubpublisher.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	a.publisher = pub
	return nil
}

func (a *App) initProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		return nil
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress"))}
	if a.cfg.Database.DSN != "" {
		st, err := postgres.NewProgressStore(ctx, postgres.StoreConfig{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("init progress store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { st.Close(); return nil })
		progressSinks = append(progressSinks, sinks.NewStoreSink(st, a.logger.Named("progress_store")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress"),
	}, progressSinks...)
	return nil
}

// Close flushes the progress hub and releases connections in reverse order
// of creation.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("service close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
