package crawler

// Record is an insertion-ordered mapping of column name to text value.
// Setting an existing key replaces its value and keeps its position.
// The zero value is ready to use.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord builds a record from alternating key/value pairs.
func NewRecord(pairs ...string) *Record {
	r := &Record{}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Set stores value under key.
func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (string, bool) {
	if r == nil || r.values == nil {
		return "", false
	}
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Merge copies every field of other into r, in other's order.
func (r *Record) Merge(other *Record) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		r.Set(k, other.values[k])
	}
}

// Project lays the record out along header. Header columns the record lacks
// are filled with the empty string and returned in missing; record keys the
// header lacks are left out of the row and returned in extra.
func (r *Record) Project(header []string) (row, missing, extra []string) {
	row = make([]string, len(header))
	inHeader := make(map[string]struct{}, len(header))
	for i, col := range header {
		inHeader[col] = struct{}{}
		v, ok := r.Get(col)
		if !ok {
			missing = append(missing, col)
		}
		row[i] = v
	}
	if r == nil {
		return row, missing, nil
	}
	for _, k := range r.keys {
		if _, ok := inHeader[k]; !ok {
			extra = append(extra, k)
		}
	}
	return row, missing, extra
}
