package schema

import (
	"fmt"

	"github.com/ncruces/go-strftime"
)

// DateLayout converts a strftime format such as "%m%Y" into a Go time layout.
func DateLayout(format string) (string, error) {
	layout, err := strftime.Layout(format)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrDateFormat, format, err)
	}
	return layout, nil
}

// Layout returns the Go time layout of the column's ParseFormat.
func (c ColumnSpec) Layout() (string, error) {
	return DateLayout(c.ParseFormat)
}
