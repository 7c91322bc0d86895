// Package ledger implements the durable progress ledger: a single JSON
// document mapping entity keys to progress records, rewritten whole on every
// transition.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

// ErrCorrupt reports a ledger document that cannot be decoded. The engine
// must refuse to start when Load returns it.
var ErrCorrupt = errors.New("ledger is corrupt")

// Backend reads and replaces the serialized ledger document.
type Backend interface {
	// Read returns the stored document, or nil when none exists yet.
	Read(ctx context.Context) ([]byte, error)
	// Write durably replaces the stored document.
	Write(ctx context.Context, data []byte) error
	// Location describes where the document lives, for logs.
	Location() string
}

// Ledger is the in-memory view of the progress document. Mutations are
// persisted before they return. The mutex only guards readers such as the
// status API; a single engine is the only writer.
type Ledger struct {
	backend Backend
	logger  *zap.Logger

	mu      sync.RWMutex
	records map[string]*crawler.EntityProgress
}

var _ crawler.Ledger = (*Ledger)(nil)

// New constructs an empty ledger over backend. Call Load before use.
func New(backend Backend, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		backend: backend,
		logger:  logger.Named("ledger"),
		records: make(map[string]*crawler.EntityProgress),
	}
}

// Open constructs a ledger and loads it.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Ledger, error) {
	l := New(backend, logger)
	if _, err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads the document from the backend and returns a snapshot of it. A
// missing document yields an empty ledger; an undecodable one yields
// ErrCorrupt.
func (l *Ledger) Load(ctx context.Context) (map[string]crawler.EntityProgress, error) {
	data, err := l.backend.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", l.backend.Location(), err)
	}
	records := make(map[string]*crawler.EntityProgress)
	if data != nil {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, l.backend.Location(), err)
		}
	}
	if records == nil {
		records = make(map[string]*crawler.EntityProgress)
	}
	for key, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: %s: null record for %q", ErrCorrupt, l.backend.Location(), key)
		}
		if rec.Status == "" {
			rec.Status = crawler.StatusNotStarted
		}
		if !rec.Status.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown status %q for %q", ErrCorrupt, l.backend.Location(), rec.Status, key)
		}
	}

	l.mu.Lock()
	l.records = records
	l.mu.Unlock()

	l.logger.Info("ledger loaded",
		zap.String("location", l.backend.Location()),
		zap.Int("entities", len(records)),
	)
	return l.Snapshot(), nil
}

// Snapshot returns a deep copy of every record.
func (l *Ledger) Snapshot() map[string]crawler.EntityProgress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]crawler.EntityProgress, len(l.records))
	for k, v := range l.records {
		out[k] = v.Clone()
	}
	return out
}

// Keys returns the entity keys in sorted order.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.records))
	for k := range l.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns a copy of the record for entity.
func (l *Ledger) Lookup(entity string) (crawler.EntityProgress, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[entity]
	if !ok {
		return crawler.EntityProgress{}, false
	}
	return rec.Clone(), true
}

// IsCompleted reports whether entity has status completed.
func (l *Ledger) IsCompleted(entity string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[entity]
	return ok && rec.Status == crawler.StatusCompleted
}

// IsItemDone reports whether itemID is marked reviewed under entity.
func (l *Ledger) IsItemDone(entity, itemID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[entity]
	if !ok {
		return false
	}
	return rec.SubProgress[itemID].Reviewed
}

// Save merges status and the optional cursor and sub-progress into the record
// for entity, creating it when absent, then persists the ledger.
func (l *Ledger) Save(ctx context.Context, entity string, status crawler.Status, opts ...crawler.SaveOption) error {
	if !status.Valid() {
		return fmt.Errorf("save %q: invalid status %q", entity, status)
	}
	var update crawler.SaveUpdate
	for _, opt := range opts {
		opt(&update)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.recordLocked(entity)
	rec.Status = status
	if update.Cursor != nil {
		rec.LastCursor = *update.Cursor
	}
	for id, p := range update.SubProgress {
		rec.SubProgress[id] = p
	}
	return l.persistLocked(ctx)
}

// MarkItemDone flags itemID as reviewed under entity and persists the ledger.
func (l *Ledger) MarkItemDone(ctx context.Context, entity, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.recordLocked(entity)
	rec.SubProgress[itemID] = crawler.ItemProgress{Reviewed: true}
	return l.persistLocked(ctx)
}

// Reset deletes the records for the given entities and persists the ledger.
// It returns the keys that were present.
func (l *Ledger) Reset(ctx context.Context, entities ...string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []string
	for _, e := range entities {
		if _, ok := l.records[e]; ok {
			delete(l.records, e)
			removed = append(removed, e)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := l.persistLocked(ctx); err != nil {
		return nil, err
	}
	l.logger.Info("ledger entries reset", zap.Strings("entities", removed))
	return removed, nil
}

func (l *Ledger) recordLocked(entity string) *crawler.EntityProgress {
	rec, ok := l.records[entity]
	if !ok {
		rec = &crawler.EntityProgress{Status: crawler.StatusNotStarted}
		l.records[entity] = rec
	}
	if rec.SubProgress == nil {
		rec.SubProgress = make(map[string]crawler.ItemProgress)
	}
	return rec
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.records); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := l.backend.Write(ctx, buf.Bytes()); err != nil {
		return fmt.Errorf("write ledger %s: %w", l.backend.Location(), err)
	}
	return nil
}
