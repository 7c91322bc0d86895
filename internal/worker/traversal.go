package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/frontier"
	"github.com/JakeFAU/autoharvest/internal/metrics"
	"github.com/JakeFAU/autoharvest/internal/progress"
)

// State is a position in an entity's traversal.
type State int

// Traversal states. Error is terminal for the run; the entity is retried on
// the next one.
const (
	StateDiscovered State = iota
	StateOpened
	StateSubsectionOpened
	StatePageIterating
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateOpened:
		return "opened"
	case StateSubsectionOpened:
		return "subsection_opened"
	case StatePageIterating:
		return "page_iterating"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrSectionMissing reports a detail page without the configured sub-section.
var ErrSectionMissing = errors.New("sub-section not found")

// EntityOutcome summarizes one entity traversal.
type EntityOutcome struct {
	Entity  string
	State   State
	Pages   int
	Written int
	Skipped int
	Failed  int
	Err     error
}

// traversal holds the state of one entity walk.
type traversal struct {
	e      *Engine
	entry  frontier.Entry
	cursor string
	// tail is the author of the table's last row. It covers a row that was
	// appended before its ledger writes landed.
	tail string
	out  EntityOutcome
	// pageFailed is set when a page could not be listed; the entity must
	// then stay incomplete so the page is revisited.
	pageFailed bool
}

// ledgerFailure wraps an error from a ledger write. These end the run.
type ledgerFailure struct{ err error }

func (f *ledgerFailure) Error() string { return "ledger write: " + f.err.Error() }
func (f *ledgerFailure) Unwrap() error { return f.err }

func (e *Engine) traverse(ctx context.Context, entry frontier.Entry) (EntityOutcome, error) {
	t := &traversal{e: e, entry: entry, out: EntityOutcome{Entity: entry.Key, State: StateDiscovered}}
	start := e.deps.Clock.Now()
	log := e.logger.With(zap.String("entity", entry.Key))
	e.emit(progress.Event{Stage: progress.StageEntityStart, Entity: entry.Key})

	if rec, ok := e.deps.Ledger.Lookup(entry.Key); ok {
		t.cursor = rec.LastCursor
	}
	if last, found, err := e.deps.Sink.LastIdentity(entry.Key, e.cfg.AuthorColumn); err != nil {
		log.Warn("read table tail failed", zap.Error(err))
	} else if found {
		t.tail = last
	}
	if err := e.deps.Ledger.Save(context.WithoutCancel(ctx), entry.Key, crawler.StatusIncomplete); err != nil {
		return t.out, &ledgerFailure{err}
	}

	walk := t.walkReviews
	if e.cfg.Mode == ModeParams {
		walk = t.walkParams
	}
	exhausted, err := walk(ctx, log)
	if err != nil {
		return t.out, err
	}
	if t.out.Err != nil {
		return t.out, nil
	}
	if !exhausted || t.pageFailed || t.out.Failed > 0 {
		log.Info("entity left incomplete",
			zap.Bool("exhausted", exhausted),
			zap.Int("pages", t.out.Pages),
			zap.Int("failed_items", t.out.Failed),
		)
		metrics.ObserveEntity(string(crawler.StatusIncomplete))
		return t.out, nil
	}

	if err := e.deps.Ledger.Save(context.WithoutCancel(ctx), entry.Key, crawler.StatusCompleted); err != nil {
		return t.out, &ledgerFailure{err}
	}
	t.out.State = StateCompleted
	metrics.ObserveEntity(string(crawler.StatusCompleted))
	e.emit(progress.Event{Stage: progress.StageEntityDone, Entity: entry.Key, Dur: e.deps.Clock.Now().Sub(start)})
	log.Info("entity completed",
		zap.Int("pages", t.out.Pages),
		zap.Int("written", t.out.Written),
		zap.Int("skipped", t.out.Skipped),
	)
	e.publishCompleted(ctx, t.out)
	return t.out, nil
}

// walkReviews opens the entity's detail page and its section, then iterates
// the section's pages. It reports whether the list was exhausted. Entity
// failures are recorded through fail; only ledger failures are returned.
func (t *traversal) walkReviews(ctx context.Context, log *zap.Logger) (bool, error) {
	e := t.e
	entry := t.entry
	u := &unit{kind: unitEntity, entity: entry.Key, shot: e.deps.Listing}
	var page crawler.EntityPage
	err := e.isolate(ctx, u, func(ctx context.Context) error {
		var err error
		page, err = e.deps.Listing.Activate(ctx, entry.Handle)
		if err != nil {
			return fmt.Errorf("open entity: %w", err)
		}
		if page == nil {
			return crawler.ErrNoNewPage
		}
		return nil
	})
	if err != nil {
		return false, t.fail(ctx, err)
	}
	defer closeQuietly(log, "entity page", page)
	t.out.State = StateOpened
	u.shot = page

	var list crawler.ItemList
	var found bool
	err = e.isolate(ctx, u, func(ctx context.Context) error {
		var err error
		list, found, err = page.OpenSection(ctx, e.cfg.SectionName)
		if err != nil {
			return fmt.Errorf("open section %q: %w", e.cfg.SectionName, err)
		}
		if found && list == nil {
			return crawler.ErrNoNewPage
		}
		return nil
	})
	if err != nil {
		return false, t.fail(ctx, err)
	}
	if !found {
		log.Warn("entity has no sub-section", zap.String("section", e.cfg.SectionName))
		return false, t.fail(ctx, ErrSectionMissing)
	}
	defer closeQuietly(log, "item list", list)
	t.out.State = StateSubsectionOpened

	return t.iterate(ctx, list)
}

// iterate walks the pages of list. It reports whether the list was
// exhausted, meaning no next-page control remained.
func (t *traversal) iterate(ctx context.Context, list crawler.ItemList) (bool, error) {
	t.out.State = StatePageIterating
	for pageNum := 1; ; pageNum++ {
		if ctx.Err() != nil {
			return false, nil
		}
		t.out.Pages = pageNum
		pu := &unit{kind: unitPage, entity: t.entry.Key, page: pageNum, shot: list}

		var items []crawler.Handle
		err := t.e.isolate(ctx, pu, func(ctx context.Context) error {
			var err error
			items, err = list.Items(ctx)
			if err != nil {
				return fmt.Errorf("list items: %w", err)
			}
			return nil
		})
		if err != nil {
			t.pageFailed = true
		}
		for i, h := range items {
			if ctx.Err() != nil {
				return false, nil
			}
			if err := t.visit(ctx, list, pageNum, i+1, h); err != nil {
				return false, err
			}
		}

		if t.e.cfg.MaxPages > 0 && pageNum >= t.e.cfg.MaxPages {
			t.e.logger.Info("page bound reached", zap.String("entity", t.entry.Key), zap.Int("max_pages", t.e.cfg.MaxPages))
			return false, nil
		}
		var next bool
		err = t.e.isolate(ctx, pu, func(ctx context.Context) error {
			var err error
			next, err = list.NextPage(ctx)
			if err != nil {
				return fmt.Errorf("next page: %w", err)
			}
			return nil
		})
		if err != nil {
			return false, nil
		}
		if !next {
			return true, nil
		}
	}
}

// visit processes one item. Only ledger write failures are returned.
func (t *traversal) visit(ctx context.Context, list crawler.ItemList, pageNum, pos int, h crawler.Handle) error {
	e := t.e
	key := t.entry.Key
	itemID := crawler.ItemID(pageNum, pos)
	if e.deps.Ledger.IsItemDone(key, itemID) {
		t.itemOutcome(itemID, progress.OutcomeSkipped, 0, "")
		return nil
	}

	start := e.deps.Clock.Now()
	u := &unit{kind: unitItem, entity: key, page: pageNum, position: pos, shot: list}
	var ext crawler.Extraction
	err := e.isolate(ctx, u, func(ctx context.Context) error {
		leaf, err := list.OpenItem(ctx, h)
		if err != nil {
			return fmt.Errorf("open item: %w", err)
		}
		defer closeQuietly(e.logger, "leaf page", leaf)
		u.shot = leaf
		snap, err := leaf.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot item: %w", err)
		}
		ext = e.deps.Adapter(snap)
		if ext.Record == nil || ext.Record.Len() == 0 {
			return errors.New("extraction produced no fields")
		}
		return nil
	})
	if err != nil {
		t.itemOutcome(itemID, progress.OutcomeFailed, e.deps.Clock.Now().Sub(start), err.Error())
		return nil
	}
	return t.persist(ctx, u, itemID, ext, start)
}

// persist appends ext as the row of itemID and records it in the ledger. A
// row already in the table, by cursor or by the table's last row, is only
// marked done. Only ledger write failures are returned.
func (t *traversal) persist(ctx context.Context, u *unit, itemID string, ext crawler.Extraction, start time.Time) error {
	e := t.e
	key := t.entry.Key
	// Everything below must run to completion once the row is written.
	pctx := context.WithoutCancel(ctx)
	if t.alreadyWritten(ext.Author) {
		e.logger.Info("item matches resume cursor; not rewriting",
			zap.String("entity", key), zap.String("item", itemID), zap.String("author", ext.Author))
		if err := e.deps.Ledger.MarkItemDone(pctx, key, itemID); err != nil {
			return &ledgerFailure{err}
		}
		t.itemOutcome(itemID, progress.OutcomeSkipped, e.deps.Clock.Now().Sub(start), "cursor")
		return nil
	}

	if err := e.deps.Sink.Append(ctx, key, ext.Record); err != nil {
		u.shot = nil
		e.unitFailed(ctx, u, fmt.Errorf("append row: %w", err))
		t.itemOutcome(itemID, progress.OutcomeFailed, e.deps.Clock.Now().Sub(start), err.Error())
		return nil
	}
	if err := e.deps.Ledger.MarkItemDone(pctx, key, itemID); err != nil {
		return &ledgerFailure{err}
	}
	if err := e.deps.Ledger.Save(pctx, key, crawler.StatusIncomplete, crawler.WithCursor(ext.Author)); err != nil {
		return &ledgerFailure{err}
	}
	t.cursor = ext.Author
	t.tail = ext.Author
	t.itemOutcome(itemID, progress.OutcomeWritten, e.deps.Clock.Now().Sub(start), "")
	return nil
}

// alreadyWritten reports whether author matches the ledger cursor or the
// author of the table's last row. The unknown sentinel never matches.
func (t *traversal) alreadyWritten(author string) bool {
	if author == "" || author == t.e.cfg.Unknown {
		return false
	}
	return author == t.cursor || author == t.tail
}

func (t *traversal) itemOutcome(itemID string, outcome progress.Outcome, dur time.Duration, note string) {
	switch outcome {
	case progress.OutcomeWritten:
		t.out.Written++
	case progress.OutcomeSkipped:
		t.out.Skipped++
	case progress.OutcomeFailed:
		t.out.Failed++
	}
	metrics.ObserveItem(string(outcome))
	t.e.emit(progress.Event{
		Stage:   progress.StageItemDone,
		Entity:  t.entry.Key,
		Item:    itemID,
		Outcome: outcome,
		Dur:     dur,
		Note:    note,
	})
}

// fail moves the entity to the error state. A canceled run leaves the entity
// incomplete instead. Only a ledger write failure is returned.
func (t *traversal) fail(ctx context.Context, cause error) error {
	t.out.Err = cause
	if ctx.Err() != nil {
		return nil
	}
	t.out.State = StateError
	if err := t.e.deps.Ledger.Save(context.WithoutCancel(ctx), t.entry.Key, crawler.StatusError); err != nil {
		return &ledgerFailure{err}
	}
	metrics.ObserveEntity(string(crawler.StatusError))
	t.e.emit(progress.Event{Stage: progress.StageEntityError, Entity: t.entry.Key, Note: cause.Error()})
	return nil
}

type closer interface {
	Close() error
}

func closeQuietly(logger *zap.Logger, what string, c closer) {
	if err := c.Close(); err != nil {
		logger.Debug("close failed", zap.String("what", what), zap.Error(err))
	}
}
