package sink

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// repairTornTail truncates the partial record an interrupted append leaves at
// the end of a table. A record counts as complete only when it parses and is
// followed by a newline, so a cut inside a quoted multi-line value is rolled
// back to the previous record. It reports whether the file was changed.
func repairTornTail(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 -- path is built from the sink root
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return false, nil
	}
	keep, err := lastRecordEnd(f, size)
	if err != nil {
		return false, err
	}
	if keep == size {
		return false, nil
	}
	if err := f.Truncate(keep); err != nil {
		return false, fmt.Errorf("truncate: %w", err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("sync: %w", err)
	}
	return true, nil
}

// lastRecordEnd returns the offset just past the last newline-terminated
// record. A parse error is tolerated only for a quoted field left open at
// the end of the file.
func lastRecordEnd(f *os.File, size int64) (int64, error) {
	r := csv.NewReader(io.NewSectionReader(f, 0, size))
	r.FieldsPerRecord = -1
	var prev, end int64
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			open, rerr := openQuoteAfter(f, end, size)
			if rerr != nil {
				return 0, rerr
			}
			if errors.Is(err, csv.ErrQuote) && open {
				return end, nil
			}
			return 0, fmt.Errorf("parse: %w", err)
		}
		prev, end = end, r.InputOffset()
	}
	if end < size {
		// Only blank lines follow the last record.
		return size, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, fmt.Errorf("read tail: %w", err)
	}
	if last[0] != '\n' {
		return prev, nil
	}
	return end, nil
}

// openQuoteAfter reports whether the bytes from off to size hold an odd
// number of quote characters, which leaves a quoted field unterminated.
func openQuoteAfter(f *os.File, off, size int64) (bool, error) {
	tail := make([]byte, size-off)
	if _, err := f.ReadAt(tail, off); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read tail: %w", err)
	}
	return bytes.Count(tail, []byte{'"'})%2 == 1, nil
}
