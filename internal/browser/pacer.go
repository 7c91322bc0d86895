package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/autoharvest/internal/metrics"
)

// PacerConfig bounds the rate of browser actions.
type PacerConfig struct {
	// ActionsPerSecond is the sustained rate per action kind. Zero or less
	// disables pacing.
	ActionsPerSecond float64
	Burst            int
}

// Pacer rate limits browser actions per action kind, so a burst of clicks
// does not starve scrolling and vice versa.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewPacer creates a Pacer.
func NewPacer(cfg PacerConfig) *Pacer {
	limit := rate.Limit(cfg.ActionsPerSecond)
	if cfg.ActionsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until an action of the given kind may run.
func (p *Pacer) Wait(ctx context.Context, action string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[action]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[action] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pace %s: %w", action, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveActionWait(waited)
	}
	return nil
}
