package frontier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/metrics"
)

// DefaultMaxRetries is the number of consecutive unchanged heights that ends discovery.
const DefaultMaxRetries = 3

// Config controls the scroll convergence loop.
type Config struct {
	// MaxRetries is the number of consecutive unchanged heights after which
	// discovery stops. A changed height resets the count.
	MaxRetries int
	// MaxScrolls bounds the number of scroll actions. Zero means unbounded.
	MaxScrolls int
	// SettleDelay is waited after each scroll before measuring.
	SettleDelay time.Duration
}

// BatchFunc receives the entries discovered by one pass over the listing.
type BatchFunc func(ctx context.Context, batch []Entry)

// Stats summarizes one discovery run.
type Stats struct {
	Passes    int
	Scrolls   int
	Skipped   int
	Converged bool
}

// Discovery scans a listing for entities not yet harvested.
type Discovery struct {
	listing crawler.Listing
	ledger  crawler.LedgerReader
	tables  crawler.TableIndex
	cfg     Config
	logger  *zap.Logger
	capture crawler.Capturer
	sleep   func(ctx context.Context, d time.Duration) error

	frontier *Frontier
	stats    Stats
}

// Option customizes a Discovery.
type Option func(*Discovery)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Discovery) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithCapturer installs a diagnostic hook invoked when a scroll pass fails.
func WithCapturer(c crawler.Capturer) Option {
	return func(d *Discovery) {
		d.capture = c
	}
}

// WithSleeper replaces the settle wait, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Discovery) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// NewDiscovery builds a discovery over listing. ledger and tables may be nil.
func NewDiscovery(listing crawler.Listing, ledger crawler.LedgerReader, tables crawler.TableIndex, cfg Config, opts ...Option) *Discovery {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	d := &Discovery{
		listing:  listing,
		ledger:   ledger,
		tables:   tables,
		cfg:      cfg,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		frontier: New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("frontier")
	return d
}

// Stats returns counters of the last Run.
func (d *Discovery) Stats() Stats {
	return d.stats
}

// Run scrolls the listing until its height is unchanged for MaxRetries
// consecutive readings, or until MaxScrolls is reached. Each pass hands its
// new entries to onBatch when it is non-nil. The frontier is returned even
// when the context ends the run early.
func (d *Discovery) Run(ctx context.Context, onBatch BatchFunc) (*Frontier, error) {
	d.stats = Stats{}
	last, err := d.listing.ScrollMetric(ctx)
	if err != nil {
		d.logger.Warn("initial scroll metric failed", zap.Error(err))
		last = -1
	}

	retries := 0
	for {
		batch := d.pass(ctx)
		if len(batch) > 0 {
			metrics.SetFrontierSize(d.frontier.Len())
			if onBatch != nil {
				onBatch(ctx, batch)
			}
		}
		if err := ctx.Err(); err != nil {
			return d.frontier, fmt.Errorf("discovery interrupted: %w", err)
		}
		if d.cfg.MaxScrolls > 0 && d.stats.Scrolls >= d.cfg.MaxScrolls {
			d.logger.Info("scroll bound reached", zap.Int("scrolls", d.stats.Scrolls))
			break
		}

		height, err := d.scroll(ctx)
		if err := ctx.Err(); err != nil {
			return d.frontier, fmt.Errorf("discovery interrupted: %w", err)
		}
		if err != nil || height == last {
			retries++
			d.logger.Debug("listing height unchanged",
				zap.Int64("height", height),
				zap.Int("retries", retries),
				zap.Int("max_retries", d.cfg.MaxRetries),
			)
			if retries >= d.cfg.MaxRetries {
				d.stats.Converged = true
				break
			}
			continue
		}
		retries = 0
		last = height
	}

	d.logger.Info("discovery finished",
		zap.Int("entities", d.frontier.Len()),
		zap.Int("passes", d.stats.Passes),
		zap.Int("scrolls", d.stats.Scrolls),
		zap.Int("skipped", d.stats.Skipped),
		zap.Bool("converged", d.stats.Converged),
	)
	return d.frontier, nil
}

// pass snapshots the rendered handles and adds the unseen ones.
func (d *Discovery) pass(ctx context.Context) []Entry {
	d.stats.Passes++
	handles, err := d.listing.EntityHandles(ctx)
	if err != nil {
		d.logger.Warn("listing entity handles failed", zap.Error(err))
		return nil
	}
	var batch []Entry
	for _, h := range handles {
		name, err := d.listing.DisplayName(ctx, h)
		if err != nil {
			d.logger.Warn("read entity display name failed", zap.Error(err))
			continue
		}
		key := crawler.NormalizeKey(name)
		if key == "" || d.frontier.Contains(key) {
			continue
		}
		if reason := d.skipReason(key); reason != "" {
			d.stats.Skipped++
			d.logger.Debug("skipping entity", zap.String("entity", key), zap.String("reason", reason))
			continue
		}
		e := Entry{Key: key, Name: name, Handle: h}
		d.frontier.Add(e)
		batch = append(batch, e)
	}
	return batch
}

// skipReason reports why key needs no traversal, or "" when it does. A sink
// table with no ledger record is treated as finished, which protects against
// a lost ledger.
func (d *Discovery) skipReason(key string) string {
	if d.ledger != nil && d.ledger.IsCompleted(key) {
		return "completed in ledger"
	}
	if d.tables != nil && d.tables.HasTable(key) {
		if d.ledger == nil {
			return "table exists"
		}
		if _, known := d.ledger.Lookup(key); !known {
			return "table exists without ledger record"
		}
	}
	return ""
}

// scroll triggers one scroll, waits for the page to settle, and measures it.
func (d *Discovery) scroll(ctx context.Context) (int64, error) {
	d.stats.Scrolls++
	metrics.ObserveScrollPass()
	if err := d.listing.TriggerScroll(ctx); err != nil {
		d.logger.Warn("scroll failed", zap.Error(err))
		d.captureFailure(ctx)
		return 0, err
	}
	if err := d.sleep(ctx, d.cfg.SettleDelay); err != nil {
		return 0, err
	}
	height, err := d.listing.ScrollMetric(ctx)
	if err != nil {
		d.logger.Warn("scroll metric failed", zap.Error(err))
		return 0, err
	}
	return height, nil
}

func (d *Discovery) captureFailure(ctx context.Context) {
	if d.capture == nil {
		return
	}
	if _, err := d.capture.Capture(ctx, d.listing, "listing_scroll"); err != nil {
		d.logger.Debug("diagnostic capture failed", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
