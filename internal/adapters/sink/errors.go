package sink

import "errors"

// Sentinel errors for the table sink.
var (
	ErrClosed             = errors.New("sink closed")
	ErrUnknownCompression = errors.New("unknown compression codec")
	ErrTypeMismatch       = errors.New("value does not match column type")
)
