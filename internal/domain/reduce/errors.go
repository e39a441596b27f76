package reduce

import "errors"

// Sentinel kinds for reducer construction errors.
var (
	ErrMissingColumn = errors.New("key column missing from schema")
)
