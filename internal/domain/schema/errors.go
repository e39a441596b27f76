package schema

import "errors"

// ErrDateFormat is returned for a date format with no Go layout equivalent.
var ErrDateFormat = errors.New("unsupported date format")
