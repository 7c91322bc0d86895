package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/metrics"
)

type unitKind string

const (
	unitEntity unitKind = "entity"
	unitPage   unitKind = "page"
	unitItem   unitKind = "item"
)

// unit identifies one unit of work for logs and diagnostics. shot is the
// browsing context captured when the unit fails; callers may update it as
// the unit descends into new contexts.
type unit struct {
	kind     unitKind
	entity   string
	page     int
	position int
	shot     crawler.Screenshotter
}

func (u *unit) name() string {
	switch u.kind {
	case unitPage:
		return fmt.Sprintf("page %s page_%d", u.entity, u.page)
	case unitItem:
		return fmt.Sprintf("item %s %s", u.entity, crawler.ItemID(u.page, u.position))
	default:
		return fmt.Sprintf("entity %s", u.entity)
	}
}

func (u *unit) fields() []zap.Field {
	fields := []zap.Field{zap.String("unit", string(u.kind)), zap.String("entity", u.entity)}
	if u.page > 0 {
		fields = append(fields, zap.Int("page", u.page))
	}
	if u.position > 0 {
		fields = append(fields, zap.String("item", crawler.ItemID(u.page, u.position)))
	}
	return fields
}

// isolate runs fn as one unit of work. A returned error or panic is logged,
// counted, and handed to the diagnostic hook; it is then returned to the
// caller, which moves on to the next sibling unit.
func (e *Engine) isolate(ctx context.Context, u *unit, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", u.kind, r)
			e.unitFailed(ctx, u, err)
		}
	}()
	if err = fn(ctx); err != nil {
		e.unitFailed(ctx, u, err)
	}
	return err
}

func (e *Engine) unitFailed(ctx context.Context, u *unit, err error) {
	metrics.ObserveUnitFailure(string(u.kind))
	fields := append(u.fields(), zap.Error(err))
	if ctx.Err() == nil && e.deps.Capturer != nil && u.shot != nil {
		uri, cerr := e.deps.Capturer.Capture(ctx, u.shot, u.name())
		if cerr != nil {
			e.logger.Debug("diagnostic capture failed", append(u.fields(), zap.Error(cerr))...)
		} else {
			fields = append(fields, zap.String("diagnostic", uri))
		}
	}
	e.logger.Warn("unit of work failed", fields...)
}
