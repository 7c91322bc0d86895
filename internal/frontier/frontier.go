// Package frontier discovers the entities of an infinite-scroll listing. It
// scrolls until the page height stops changing and collects a deduplicated,
// discovery-ordered set of entity handles.
package frontier

import "github.com/JakeFAU/autoharvest/internal/crawler"

// Entry is one discovered entity.
type Entry struct {
	Key    string
	Name   string
	Handle crawler.Handle
}

// Frontier is an insertion-ordered set of entries keyed by entity key.
type Frontier struct {
	entries []Entry
	index   map[string]int
}

// New returns an empty frontier.
func New() *Frontier {
	return &Frontier{index: make(map[string]int)}
}

// Add appends e unless its key is already present. It reports whether e was added.
func (f *Frontier) Add(e Entry) bool {
	if _, ok := f.index[e.Key]; ok {
		return false
	}
	f.index[e.Key] = len(f.entries)
	f.entries = append(f.entries, e)
	return true
}

// Contains reports whether key has been added.
func (f *Frontier) Contains(key string) bool {
	_, ok := f.index[key]
	return ok
}

// Get returns the entry for key.
func (f *Frontier) Get(key string) (Entry, bool) {
	i, ok := f.index[key]
	if !ok {
		return Entry{}, false
	}
	return f.entries[i], true
}

// Entries returns the entries in discovery order.
func (f *Frontier) Entries() []Entry {
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Keys returns the entity keys in discovery order.
func (f *Frontier) Keys() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Key
	}
	return out
}

// Len returns the number of entries.
func (f *Frontier) Len() int {
	return len(f.entries)
}
