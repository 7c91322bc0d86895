package crawler

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an entity in the progress ledger.
type Status string

const (
	// StatusNotStarted marks an entity that has been observed but not traversed.
	StatusNotStarted Status = "not_started"
	// StatusIncomplete marks an entity whose traversal started and may resume.
	StatusIncomplete Status = "incomplete"
	// StatusCompleted marks an entity whose item list was exhausted.
	StatusCompleted Status = "completed"
	// StatusError marks an entity whose traversal failed or had no data.
	StatusError Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusIncomplete, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// ItemProgress is the per-item completion flag stored under an entity.
type ItemProgress struct {
	Reviewed bool `json:"reviewed"`
}

// EntityProgress is the persisted progress record of one entity.
type EntityProgress struct {
	Status      Status                  `json:"status"`
	LastCursor  string                  `json:"last_cursor"`
	SubProgress map[string]ItemProgress `json:"sub_progress"`
}

// Clone returns a deep copy of the record.
func (p EntityProgress) Clone() EntityProgress {
	cp := p
	if p.SubProgress != nil {
		cp.SubProgress = make(map[string]ItemProgress, len(p.SubProgress))
		for k, v := range p.SubProgress {
			cp.SubProgress[k] = v
		}
	}
	return cp
}

// LeafSnapshot holds the four ordered text sequences queried from a leaf page.
type LeafSnapshot struct {
	Subjects []string
	Authors  []string
	Labels   []string
	Values   []string
}

// TableSnapshot is a parameter table read column-wise: one column per
// variant of the entity, one row per labeled attribute.
type TableSnapshot struct {
	// Columns names each variant, left to right.
	Columns []string
	// Prices holds the price of each column; it may be shorter than Columns.
	Prices []string
	Labels []string
	// Cells[r][c] is the value of Labels[r] for Columns[c]. Empty means the
	// page showed nothing.
	Cells [][]string
}

// Extraction is the structured result of adapting a leaf snapshot.
type Extraction struct {
	Record  *Record
	Subject string
	Author  string
}

// Adapter turns a leaf snapshot into a record. Implementations must be pure.
type Adapter func(LeafSnapshot) Extraction

// TableAdapter turns a parameter table into one extraction per column, in
// column order. Implementations must be pure.
type TableAdapter func(TableSnapshot) []Extraction

// ItemID returns the composite position id of an item within an entity.
// Page numbers and positions are 1-based.
func ItemID(page, position int) string {
	return fmt.Sprintf("page_%d_item_%d", page, position)
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
