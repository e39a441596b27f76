package glossary

import "errors"

// Sentinel errors for glossary reading.
var (
	ErrGlossaryUnavailable = errors.New("glossary unavailable")
	ErrUnsupportedFormat   = errors.New("unsupported glossary format")
)
