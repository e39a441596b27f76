package sink

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// Option applies a configuration option to the ParquetSink.
type Option func(*ParquetSink) error

// WithCompression selects the page codec: snappy, gzip, zstd, lz4 or none.
func WithCompression(name string) Option {
	return func(s *ParquetSink) error {
		codec, err := codecByName(name)
		if err != nil {
			return err
		}
		s.codec = codec
		return nil
	}
}

// WithBatchSize sets how many rows are buffered before they are handed to the
// parquet writer.
func WithBatchSize(n int) Option {
	return func(s *ParquetSink) error {
		if n > 0 {
			s.batchSize = n
		}
		return nil
	}
}

func codecByName(name string) (compress.Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "lz4":
		return &parquet.Lz4Raw, nil
	case "none", "uncompressed":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}
