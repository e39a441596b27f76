package source

import "errors"

// Sentinel errors for raw record reading.
var (
	ErrSourceUnavailable = errors.New("raw source unavailable")
	ErrUnknownEncoding   = errors.New("unknown character encoding")
)
