package source

import "github.com/okian/loanlabel/pkg/logger"

// Option applies a configuration option to the Reader.
type Option func(*Reader)

// WithGlob sets the file name pattern matched inside the raw directory.
func WithGlob(pattern string) Option {
	return func(r *Reader) {
		if pattern != "" {
			r.glob = pattern
		}
	}
}

// WithDelimiter sets the field separator.
func WithDelimiter(delim rune) Option {
	return func(r *Reader) {
		if delim != 0 {
			r.delimiter = delim
		}
	}
}

// WithEncoding sets the IANA charset name the raw files are written in.
func WithEncoding(name string) Option {
	return func(r *Reader) {
		if name != "" {
			r.encoding = name
		}
	}
}

// WithLogger sets a custom logger for the reader.
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}
