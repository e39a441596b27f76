// Package sink persists labeled rows as a parquet table.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/schema"
	"github.com/okian/loanlabel/internal/domain/value"
)

const (
	defaultBatchSize = 1024
	secondsPerDay    = 24 * 60 * 60
)

// ParquetSink writes rows to a temporary file next to the target path and
// renames it into place on Close. Abort discards everything written so far, so
// the target path only ever holds a complete table.
//
// Every column is optional; missing values are written as nulls. Columns
// appear in the file in name order.
type ParquetSink struct {
	mu sync.Mutex

	path      string
	tmp       *os.File
	writer    *parquet.Writer
	columns   []schema.ColumnSpec
	leaf      []int // leaf column index per row position
	codec     compress.Codec
	batchSize int

	pending []parquet.Row
	rows    int64
	closed  bool
}

// NewParquetSink prepares a sink for rows laid out as columns.
func NewParquetSink(path string, columns []schema.ColumnSpec, opts ...Option) (*ParquetSink, error) {
	s := &ParquetSink{
		path:      path,
		columns:   columns,
		codec:     &parquet.Snappy,
		batchSize: defaultBatchSize,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c.Name] = parquet.Optional(node(c.Type))
	}
	sch := parquet.NewSchema("loan", group)

	byName := make(map[string]int, len(columns))
	for i, f := range sch.Fields() {
		byName[f.Name()] = i
	}
	s.leaf = make([]int, len(columns))
	for i, c := range columns {
		s.leaf[i] = byName[c.Name]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	s.tmp = tmp
	s.writer = parquet.NewWriter(tmp, sch, parquet.Compression(s.codec))
	s.pending = make([]parquet.Row, 0, s.batchSize)

	return s, nil
}

func node(t schema.SemanticType) parquet.Node {
	switch t {
	case schema.Integer:
		return parquet.Int(64)
	case schema.Float:
		return parquet.Leaf(parquet.DoubleType)
	case schema.Date:
		return parquet.Date()
	default:
		return parquet.String()
	}
}

// Write appends rows to the table.
func (s *ParquetSink) Write(rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, r := range rows {
		pr, err := s.convert(r)
		if err != nil {
			return err
		}
		s.pending = append(s.pending, pr)
		if len(s.pending) >= s.batchSize {
			if err := s.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ParquetSink) convert(r model.Row) (parquet.Row, error) {
	if len(r.Values) != len(s.columns) {
		return nil, fmt.Errorf("%w: row %s has %d values, want %d", ErrTypeMismatch, r.LoanID, len(r.Values), len(s.columns))
	}

	out := make(parquet.Row, len(s.columns))
	for i, v := range r.Values {
		col := s.leaf[i]
		if v.IsMissing() {
			out[col] = parquet.NullValue().Level(0, 0, col)
			continue
		}
		pv, err := leafValue(s.columns[i], v)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", r.LoanID, err)
		}
		out[col] = pv.Level(0, 1, col)
	}
	return out, nil
}

func leafValue(c schema.ColumnSpec, v value.Value) (parquet.Value, error) {
	switch c.Type {
	case schema.Integer:
		if i, ok := v.AsInt(); ok {
			return parquet.Int64Value(i), nil
		}
	case schema.Float:
		if f, ok := v.AsFloat(); ok {
			return parquet.DoubleValue(f), nil
		}
	case schema.Date:
		if t, ok := v.AsTime(); ok {
			return parquet.Int32Value(daysSinceEpoch(t)), nil
		}
	default:
		if str, ok := v.AsString(); ok {
			return parquet.ByteArrayValue([]byte(str)), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("%w: column %q is %s, value is %s", ErrTypeMismatch, c.Name, c.Type, v.Kind())
}

func daysSinceEpoch(t time.Time) int32 {
	secs := t.Unix()
	days := secs / secondsPerDay
	if secs%secondsPerDay < 0 {
		days--
	}
	return int32(days)
}

func (s *ParquetSink) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	n, err := s.writer.WriteRows(s.pending)
	s.rows += int64(n)
	s.pending = s.pending[:0]
	if err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return nil
}

// Rows returns the number of rows handed to the parquet writer so far.
func (s *ParquetSink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows + int64(len(s.pending))
}

// Path returns the final table path.
func (s *ParquetSink) Path() string { return s.path }

// Close flushes buffered rows, finishes the parquet footer and moves the file
// to its final path.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true

	tmpName := s.tmp.Name()
	fail := func(err error) error {
		_ = s.tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if err := s.flush(); err != nil {
		return fail(err)
	}
	if err := s.writer.Close(); err != nil {
		return fail(fmt.Errorf("close parquet writer: %w", err))
	}
	if err := s.tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync output: %w", err))
	}
	if err := s.tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish output: %w", err)
	}
	return nil
}

// Abort drops the partial table. It is a no-op after Close.
func (s *ParquetSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil

	_ = s.tmp.Close()
	if err := os.Remove(s.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial output: %w", err)
	}
	return nil
}
