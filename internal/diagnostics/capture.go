// Package diagnostics implements the failure capture hook: a screenshot of
// the failing browsing context is written to a blob store.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls where captures are written.
type Config struct {
	Prefix  string
	Timeout time.Duration
}

// Capturer writes screenshots to a blob store.
type Capturer struct {
	store  crawler.BlobStore
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
	runID  string
}

var _ crawler.Capturer = (*Capturer)(nil)

// New returns a Capturer writing to store.
func New(store crawler.BlobStore, cfg Config, clock crawler.Clock, logger *zap.Logger) *Capturer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{store: store, cfg: cfg, clock: clock, logger: logger.Named("diagnostics")}
}

// ForRun returns a copy that files captures under runID.
func (c *Capturer) ForRun(runID string) *Capturer {
	cp := *c
	cp.runID = runID
	return &cp
}

// Capture screenshots src and stores it under a name derived from unit. It
// returns the blob URI.
func (c *Capturer) Capture(ctx context.Context, src crawler.Screenshotter, unit string) (string, error) {
	if c == nil || c.store == nil {
		return "", errors.New("diagnostics store is not configured")
	}
	if src == nil {
		return "", errors.New("nothing to capture")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	shot, err := src.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot %s: %w", unit, err)
	}
	name := c.objectPath(unit)
	uri, err := c.store.PutObject(ctx, name, "image/png", shot)
	if err != nil {
		return "", fmt.Errorf("store screenshot %s: %w", unit, err)
	}
	c.logger.Info("diagnostic captured", zap.String("unit", unit), zap.String("uri", uri))
	return uri, nil
}

func (c *Capturer) objectPath(unit string) string {
	file := fmt.Sprintf("%s_%s.png", slug(unit), c.clock.Now().UTC().Format("20060102T150405.000"))
	parts := []string{}
	if p := strings.Trim(c.cfg.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if c.runID != "" {
		parts = append(parts, c.runID)
	}
	return path.Join(append(parts, file)...)
}

func slug(unit string) string {
	s := crawler.SanitizeName(strings.TrimSpace(unit))
	s = strings.Join(strings.Fields(s), "_")
	if s == "" {
		return "unit"
	}
	return s
}
