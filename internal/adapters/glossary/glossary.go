// Package glossary reads the data dictionary that describes the raw
// performance file layout. Workbooks (.xlsx) and comma separated exports
// (.csv) are supported.
package glossary

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/loanlabel/internal/domain/schema"
)

// Read returns the glossary rows of the file at path in sheet order.
func Read(ctx context.Context, path string, opts ...Option) ([]schema.GlossaryEntry, error) {
	l := defaultLayout()
	for _, opt := range opts {
		opt(&l)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(ctx, path, l)
	case ".csv":
		return readCSV(ctx, path, l)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func readWorkbook(ctx context.Context, path string, l layout) ([]schema.GlossaryEntry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrGlossaryUnavailable, path, err)
	}
	defer func() { _ = f.Close() }()

	sheet := l.sheet
	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %w", ErrGlossaryUnavailable, sheet, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []schema.GlossaryEntry
	for n := 0; rows.Next(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrGlossaryUnavailable, n+1, err)
		}
		if n < l.headerRows {
			continue
		}
		entries = append(entries, l.entry(cells))
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGlossaryUnavailable, err)
	}

	return entries, nil
}

func readCSV(ctx context.Context, path string, l layout) ([]schema.GlossaryEntry, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrGlossaryUnavailable, path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var entries []schema.GlossaryEntry
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrGlossaryUnavailable, path, err)
		}
		if n < l.headerRows {
			continue
		}
		entries = append(entries, l.entry(cells))
	}

	return entries, nil
}

// entry picks the configured cells; cells past the end of a short row are null.
func (l layout) entry(cells []string) schema.GlossaryEntry {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	return schema.GlossaryEntry{
		FieldName:    cell(l.fieldCol),
		StandardFlag: cell(l.flagCol),
		DataType:     cell(l.typeCol),
		FormatHint:   cell(l.formatCol),
	}
}
