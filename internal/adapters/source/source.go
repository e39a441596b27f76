// Package source streams raw monthly performance records from the delimited
// files of a raw data directory.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/okian/loanlabel/internal/domain/record"
	"github.com/okian/loanlabel/pkg/logger"
	"github.com/okian/loanlabel/pkg/metrics"
)

// Default reader configuration.
const (
	defaultGlob      = "*.csv"
	defaultDelimiter = '|'
	defaultEncoding  = "ISO-8859-1"
)

// Counts summarizes one Stream call.
type Counts struct {
	Files           int
	Records         int64
	WidthMismatches int64
}

// Reader discovers raw files and turns their lines into RawRecords. Files
// have no header row and every value is kept as a string.
type Reader struct {
	dir       string
	glob      string
	delimiter rune
	encoding  string
	charset   encoding.Encoding
	logger    logger.Logger
}

// New returns a Reader over dir.
func New(dir string, opts ...Option) (*Reader, error) {
	r := &Reader{
		dir:       dir,
		glob:      defaultGlob,
		delimiter: defaultDelimiter,
		encoding:  defaultEncoding,
		logger:    logger.Get().Named("source"),
	}

	for _, opt := range opts {
		opt(r)
	}

	enc, err := ianaindex.IANA.Encoding(r.encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnknownEncoding, r.encoding, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %q is not supported", ErrUnknownEncoding, r.encoding)
	}
	r.charset = enc

	return r, nil
}

// Files lists the raw files in name order. An unreadable directory or an
// empty match is an error.
func (r *Reader) Files() ([]string, error) {
	info, err := os.Stat(r.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, r.dir)
	}

	matches, err := filepath.Glob(filepath.Join(r.dir, r.glob))
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %w", ErrSourceUnavailable, r.glob, err)
	}

	files := matches[:0]
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files match %s in %s", ErrSourceUnavailable, r.glob, r.dir)
	}
	slices.Sort(files)

	return files, nil
}

// Stream calls fn for every record of every raw file. Records receive a
// sequence number that is global across files. Lines whose field count is not
// width are padded with blanks or truncated and counted; width <= 0 keeps
// lines as read. An error from fn stops the stream and is returned as is.
func (r *Reader) Stream(ctx context.Context, width int, fn func(record.RawRecord) error) (Counts, error) {
	var counts Counts

	files, err := r.Files()
	if err != nil {
		return counts, err
	}

	var seq uint64
	for _, path := range files {
		n, mismatches, err := r.streamFile(ctx, path, width, &seq, fn)
		counts.Records += n
		counts.WidthMismatches += mismatches
		metrics.RecordRecordsRead(int(n))
		if err != nil {
			return counts, err
		}
		counts.Files++
		metrics.RecordFileRead()
		r.logger.Debug(ctx, "raw file read",
			logger.String("file", filepath.Base(path)),
			logger.Int64("records", n),
		)
	}

	if counts.WidthMismatches > 0 {
		r.logger.Warn(ctx, "records did not match the schema width",
			logger.Int64("count", counts.WidthMismatches),
			logger.Int("width", width),
		)
	}

	return counts, nil
}

func (r *Reader) streamFile(ctx context.Context, path string, width int, seq *uint64, fn func(record.RawRecord) error) (int64, int64, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the configured raw directory
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	cr := csv.NewReader(r.charset.NewDecoder().Reader(f))
	cr.Comma = r.delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var n, mismatches int64
	for {
		if err := ctx.Err(); err != nil {
			return n, mismatches, err
		}

		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, mismatches, nil
		}
		if err != nil {
			return n, mismatches, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, filepath.Base(path), err)
		}

		if width > 0 && len(fields) != width {
			mismatches++
			metrics.RecordWidthMismatch()
			fields = fit(fields, width)
		}

		if err := fn(record.New(*seq, fields)); err != nil {
			return n, mismatches, err
		}
		*seq++
		n++
	}
}

func fit(fields []string, width int) []string {
	if len(fields) > width {
		return fields[:width]
	}
	return append(fields, make([]string, width-len(fields))...)
}
