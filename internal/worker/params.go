package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/progress"
)

// ErrEmptyTable reports a parameter table without any columns.
var ErrEmptyTable = errors.New("parameter table has no columns")

// walkParams opens the card's parameter table and writes one row per table
// column. The table is a single page; its columns are the items, so a column
// written by an earlier run is skipped the same way a review is.
func (t *traversal) walkParams(ctx context.Context, log *zap.Logger) (bool, error) {
	e := t.e
	key := t.entry.Key
	listing, ok := e.deps.Listing.(crawler.ParamsListing)
	if !ok {
		return false, t.fail(ctx, fmt.Errorf("listing %T cannot open parameter tables", e.deps.Listing))
	}

	u := &unit{kind: unitEntity, entity: key, shot: listing}
	var page crawler.ParamsPage
	var found bool
	err := e.isolate(ctx, u, func(ctx context.Context) error {
		var err error
		page, found, err = listing.OpenParams(ctx, t.entry.Handle)
		if err != nil {
			return fmt.Errorf("open parameters: %w", err)
		}
		if found && page == nil {
			return crawler.ErrNoNewPage
		}
		return nil
	})
	if err != nil {
		return false, t.fail(ctx, err)
	}
	if !found {
		log.Warn("entity has no parameter link")
		return false, t.fail(ctx, fmt.Errorf("parameter link: %w", ErrSectionMissing))
	}
	defer closeQuietly(log, "parameter page", page)
	t.out.State = StateOpened
	u.shot = page

	var exts []crawler.Extraction
	err = e.isolate(ctx, u, func(ctx context.Context) error {
		snap, err := page.Table(ctx)
		if err != nil {
			return fmt.Errorf("read parameter table: %w", err)
		}
		exts = e.deps.TableAdapter(snap)
		if len(exts) == 0 {
			return ErrEmptyTable
		}
		return nil
	})
	if err != nil {
		return false, t.fail(ctx, err)
	}

	t.out.State = StatePageIterating
	t.out.Pages = 1
	for i, ext := range exts {
		if ctx.Err() != nil {
			return false, nil
		}
		itemID := crawler.ItemID(1, i+1)
		if e.deps.Ledger.IsItemDone(key, itemID) {
			t.itemOutcome(itemID, progress.OutcomeSkipped, 0, "")
			continue
		}
		start := e.deps.Clock.Now()
		iu := &unit{kind: unitItem, entity: key, page: 1, position: i + 1, shot: page}
		if ext.Record == nil || ext.Record.Len() == 0 {
			err := errors.New("extraction produced no fields")
			e.unitFailed(ctx, iu, err)
			t.itemOutcome(itemID, progress.OutcomeFailed, 0, err.Error())
			continue
		}
		if err := t.persist(ctx, iu, itemID, ext, start); err != nil {
			return false, err
		}
	}
	return true, nil
}
