package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrNoNewPage reports that activating a handle did not open a browsing context.
var ErrNoNewPage = errors.New("activation opened no new page")

// Handle is an opaque reference to a rendered element owned by the browser layer.
type Handle any

// Screenshotter captures the visual state of a browsing context for diagnostics.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Listing is the infinite-scroll surface that enumerates top-level entities.
type Listing interface {
	Screenshotter
	EntityHandles(ctx context.Context) ([]Handle, error)
	DisplayName(ctx context.Context, h Handle) (string, error)
	Activate(ctx context.Context, h Handle) (EntityPage, error)
	ScrollMetric(ctx context.Context) (int64, error)
	TriggerScroll(ctx context.Context) error
}

// EntityPage is the detail page of one entity.
type EntityPage interface {
	Screenshotter
	// OpenSection activates the named sub-section link. found is false when
	// the page has no such link.
	OpenSection(ctx context.Context, name string) (list ItemList, found bool, err error)
	Close() error
}

// ItemList is a paginated list of item triggers.
type ItemList interface {
	Screenshotter
	Items(ctx context.Context) ([]Handle, error)
	OpenItem(ctx context.Context, h Handle) (LeafPage, error)
	// NextPage activates the next-page control. It returns false when the
	// control is absent or disabled.
	NextPage(ctx context.Context) (bool, error)
	Close() error
}

// LeafPage is a rendered leaf record.
type LeafPage interface {
	Screenshotter
	Snapshot(ctx context.Context) (LeafSnapshot, error)
	Close() error
}

// ParamsListing is a listing whose cards link straight to a parameter table.
type ParamsListing interface {
	Listing
	// OpenParams activates the parameter link of a card. found is false when
	// the card has no such link.
	OpenParams(ctx context.Context, h Handle) (page ParamsPage, found bool, err error)
}

// ParamsPage is a rendered parameter comparison table.
type ParamsPage interface {
	Screenshotter
	Table(ctx context.Context) (TableSnapshot, error)
	Close() error
}

// LedgerReader answers completion questions from the progress ledger.
type LedgerReader interface {
	IsCompleted(entity string) bool
	IsItemDone(entity, itemID string) bool
	Lookup(entity string) (EntityProgress, bool)
}

// Ledger is the durable progress record. Every mutating call persists the
// whole ledger before returning.
type Ledger interface {
	LedgerReader
	Save(ctx context.Context, entity string, status Status, opts ...SaveOption) error
	MarkItemDone(ctx context.Context, entity, itemID string) error
}

// SaveUpdate carries the optional fields of a ledger save.
type SaveUpdate struct {
	Cursor      *string
	SubProgress map[string]ItemProgress
}

// SaveOption customizes a ledger save.
type SaveOption func(*SaveUpdate)

// WithCursor sets the entity's resume cursor.
func WithCursor(cursor string) SaveOption {
	return func(u *SaveUpdate) {
		u.Cursor = &cursor
	}
}

// WithSubProgress merges item progress into the entity's record.
func WithSubProgress(sub map[string]ItemProgress) SaveOption {
	return func(u *SaveUpdate) {
		u.SubProgress = sub
	}
}

// TableIndex reports which sink tables exist.
type TableIndex interface {
	HasTable(table string) bool
}

// Sink is an append-only, schema-evolving record writer.
type Sink interface {
	TableIndex
	Append(ctx context.Context, table string, rec *Record) error
	LastIdentity(table, idColumn string) (string, bool, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Capturer is the diagnostic hook invoked when a unit of work fails.
type Capturer interface {
	Capture(ctx context.Context, src Screenshotter, unit string) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
