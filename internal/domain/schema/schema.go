// Package schema derives the raw record layout and the column type plan from
// the glossary of a loan performance data dictionary.
package schema

import (
	"regexp"
	"strings"
)

// SemanticType is the type a raw string column is cast to.
type SemanticType int

// Semantic types.
const (
	String SemanticType = iota
	Date
	Integer
	Float
)

// DefaultDateFormat is the month-year layout used by every DATE column.
const DefaultDateFormat = "%m%Y"

// notStandardFlag marks glossary fields absent from the standard file layout.
const notStandardFlag = "NA"

func (t SemanticType) String() string {
	switch t {
	case Date:
		return "DATE"
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	default:
		return "STRING"
	}
}

// GlossaryEntry is one data dictionary row. Empty strings stand for null cells.
type GlossaryEntry struct {
	FieldName    string
	StandardFlag string
	DataType     string
	FormatHint   string
}

// ColumnSpec describes one column of the raw layout.
type ColumnSpec struct {
	Name        string
	Type        SemanticType
	ParseFormat string // strftime layout, set for Date columns
}

// Ambiguity records a numeric column whose format hint was not recognized and
// which was therefore typed as Float.
type Ambiguity struct {
	Column string
	Hint   string
}

// Schema is the ordered raw record layout. It is immutable once derived and
// safe to share between goroutines.
type Schema struct {
	columns     []ColumnSpec
	index       map[string]int
	ambiguities []Ambiguity
	duplicates  []string
}

var (
	integerHint       = regexp.MustCompile(`^9\(\d+\)$`)
	decimalHint       = regexp.MustCompile(`^9\(\d+\)\.\d+$`)
	dottedDecimalHint = regexp.MustCompile(`^9\.\(\d+\)\.\d+$`)
)

// Derive builds a Schema from glossary rows. Rows without a field name and
// rows flagged "NA" are skipped; the rest keep glossary order, which is also
// the column order of the raw files. Derive never fails: missing or unknown
// type information degrades to String (or Float under NUMERIC).
func Derive(entries []GlossaryEntry) *Schema {
	s := &Schema{index: make(map[string]int, len(entries))}

	for _, e := range entries {
		name := strings.TrimSpace(e.FieldName)
		if name == "" || strings.EqualFold(strings.TrimSpace(e.StandardFlag), notStandardFlag) {
			continue
		}

		spec, ambiguous := classify(name, e.DataType, e.FormatHint)
		if ambiguous {
			s.ambiguities = append(s.ambiguities, Ambiguity{Column: name, Hint: strings.TrimSpace(e.FormatHint)})
		}

		// Positions must follow the raw layout even for repeated names; lookups
		// resolve to the first occurrence.
		if _, seen := s.index[name]; seen {
			s.duplicates = append(s.duplicates, name)
		} else {
			s.index[name] = len(s.columns)
		}
		s.columns = append(s.columns, spec)
	}

	return s
}

// classify maps a data type descriptor and format hint to a ColumnSpec.
// ALPHA is tested before NUMERIC so "ALPHA-NUMERIC" stays a string. This is
// deliberately not the DATE, NUMERIC, ALPHA order, which would type it numeric.
func classify(name, dataType, hint string) (ColumnSpec, bool) {
	descriptor := strings.ToUpper(strings.TrimSpace(dataType))
	spec := ColumnSpec{Name: name, Type: String}

	switch {
	case strings.Contains(descriptor, "DATE"):
		spec.Type = Date
		spec.ParseFormat = DefaultDateFormat
	case strings.Contains(descriptor, "ALPHA"):
		spec.Type = String
	case strings.Contains(descriptor, "NUMERIC"):
		h := strings.TrimSpace(hint)
		switch {
		case integerHint.MatchString(h):
			spec.Type = Integer
		case decimalHint.MatchString(h), dottedDecimalHint.MatchString(h):
			spec.Type = Float
		default:
			spec.Type = Float
			return spec, true
		}
	}

	return spec, false
}

// Columns returns the columns in layout order.
func (s *Schema) Columns() []ColumnSpec {
	out := make([]ColumnSpec, len(s.columns))
	copy(out, s.columns)
	return out
}

// Names returns the column names in layout order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of columns in the raw layout.
func (s *Schema) Len() int { return len(s.columns) }

// Index returns the layout position of a column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Lookup returns the spec of a column.
func (s *Schema) Lookup(name string) (ColumnSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return ColumnSpec{}, false
	}
	return s.columns[i], true
}

// Ambiguities lists numeric columns that fell back to Float.
func (s *Schema) Ambiguities() []Ambiguity {
	out := make([]Ambiguity, len(s.ambiguities))
	copy(out, s.ambiguities)
	return out
}

// Duplicates lists repeated field names after their first occurrence.
func (s *Schema) Duplicates() []string {
	out := make([]string, len(s.duplicates))
	copy(out, s.duplicates)
	return out
}
