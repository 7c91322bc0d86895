// Package sink writes extracted records to one CSV table per entity. Tables
// are append-only; the header is fixed by the first record written and later
// records are projected onto it.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

// DefaultSuffix is appended to the sanitized table name to form a file name.
const DefaultSuffix = "_reviews.csv"

// ErrEmptyRecord is returned when appending a record with no fields.
var ErrEmptyRecord = errors.New("record has no fields")

const utf8BOM = "\ufeff"

// CSVSink stores tables as CSV files under a root directory.
type CSVSink struct {
	root   string
	suffix string
	logger *zap.Logger

	mu      sync.Mutex
	headers map[string][]string
}

var _ crawler.Sink = (*CSVSink)(nil)

// NewCSVSink returns a sink rooted at dir.
func NewCSVSink(root, suffix string, logger *zap.Logger) (*CSVSink, error) {
	if root == "" {
		return nil, errors.New("sink root is required")
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	return &CSVSink{
		root:    root,
		suffix:  suffix,
		logger:  logger.Named("sink"),
		headers: make(map[string][]string),
	}, nil
}

// Path returns the file backing table.
func (s *CSVSink) Path(table string) string {
	return filepath.Join(s.root, crawler.SanitizeName(table)+s.suffix)
}

// HasTable reports whether a non-empty file exists for table.
func (s *CSVSink) HasTable(table string) bool {
	info, err := os.Stat(s.Path(table))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Tables lists the table names present under the root, sorted.
func (s *CSVSink) Tables() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sink dir %s: %w", s.root, err)
	}
	var tables []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, s.suffix) {
			continue
		}
		tables = append(tables, strings.TrimSuffix(name, s.suffix))
	}
	sort.Strings(tables)
	return tables, nil
}

// Append writes rec as one row of table. A new table takes rec's keys as its
// header. For an existing table, header columns missing from rec are written
// empty and keys outside the header are dropped.
func (s *CSVSink) Append(ctx context.Context, table string, rec *crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append to %s: %w", table, err)
	}
	if rec.Len() == 0 {
		return fmt.Errorf("append to %s: %w", table, ErrEmptyRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(table)
	header, err := s.headerLocked(table, path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	var row []string
	if header == nil {
		header = rec.Keys()
		row, _, _ = rec.Project(header)
		if err := w.Write(header); err != nil {
			return fmt.Errorf("encode header for %s: %w", table, err)
		}
	} else {
		var missing, extra []string
		row, missing, extra = rec.Project(header)
		if len(extra) > 0 {
			s.logger.Warn("dropping fields outside table header",
				zap.String("table", table),
				zap.Strings("dropped", extra),
			)
		}
		if len(missing) > 0 {
			s.logger.Debug("filling missing columns",
				zap.String("table", table),
				zap.Strings("missing", missing),
			)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("encode row for %s: %w", table, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row for %s: %w", table, err)
	}

	if err := appendDurably(path, buf.Bytes()); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	s.headers[table] = header
	return nil
}

// Header returns the header of table, or nil when the table does not exist.
func (s *CSVSink) Header(table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, err := s.headerLocked(table, s.Path(table))
	if err != nil {
		return nil, err
	}
	return append([]string(nil), header...), nil
}

// ReadTable returns the header and data rows of table. A partial trailing
// record is repaired first.
func (s *CSVSink) ReadTable(table string) ([]string, [][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.Path(table)
	if _, err := s.headerLocked(table, path); err != nil {
		return nil, nil, err
	}
	return readAll(path)
}

// LastIdentity returns the value of idColumn in the last row of table. found
// is false when the table is missing, has no rows, or lacks the column.
func (s *CSVSink) LastIdentity(table, idColumn string) (string, bool, error) {
	header, rows, err := s.ReadTable(table)
	if err != nil || len(rows) == 0 {
		return "", false, err
	}
	idx := -1
	for i, col := range header {
		if col == idColumn {
			idx = i
			break
		}
	}
	last := rows[len(rows)-1]
	if idx < 0 || idx >= len(last) {
		return "", false, nil
	}
	return last[idx], true, nil
}

func (s *CSVSink) headerLocked(table, path string) ([]string, error) {
	if header, ok := s.headers[table]; ok {
		return header, nil
	}
	repaired, err := repairTornTail(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if repaired {
		s.logger.Warn("truncated partial trailing row", zap.String("table", table), zap.String("path", path))
	}
	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	if header != nil {
		s.headers[table] = header
	}
	return header, nil
}

func openTable(path string) (*os.File, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from the sink root
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func readHeader(path string) ([]string, error) {
	f, err := openTable(path)
	if f == nil || err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return stripBOM(header), nil
}

func readAll(path string) ([]string, [][]string, error) {
	f, err := openTable(path)
	if f == nil || err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return stripBOM(records[0]), records[1:], nil
}

func stripBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	return header
}

// appendDurably appends data with a single write and fsyncs the file.
func appendDurably(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is built from the sink root
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
