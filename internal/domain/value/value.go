// Package value holds the tagged cell type used for typed output rows.
package value

import (
	"strconv"
	"time"
)

// Kind tags the variant stored in a Value.
type Kind int

// Value kinds.
const (
	Missing Kind = iota
	String
	Int64
	Float64
	Date
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Date:
		return "date"
	default:
		return "missing"
	}
}

// Value is a small variant over the cell types of the output table.
// The zero Value is Missing.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	t    time.Time
}

// Null returns a missing value.
func Null() Value { return Value{} }

// Str wraps a string.
func Str(s string) Value { return Value{kind: String, s: s} }

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: Int64, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: Float64, f: f} }

// Time wraps a calendar date.
func Time(t time.Time) Value { return Value{kind: Date, t: t} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether the value is missing.
func (v Value) IsMissing() bool { return v.kind == Missing }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == String }

// AsInt returns the int64 payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == Int64 }

// AsFloat returns the float64 payload.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == Float64 }

// AsTime returns the date payload.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == Date }

// String renders the value for logs and debugging.
func (v Value) String() string {
	switch v.kind {
	case String:
		return v.s
	case Int64:
		return strconv.FormatInt(v.i, 10)
	case Float64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Date:
		return v.t.Format(time.DateOnly)
	default:
		return "<missing>"
	}
}
