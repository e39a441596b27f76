// Package cast types reduced loan summaries into output rows.
package cast

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/schema"
	"github.com/okian/loanlabel/internal/domain/value"
)

// Computed output columns. Their types are fixed and never read from the glossary.
const (
	DefaultColumn    = "Default_in_12M"
	LoanAgeMaxColumn = "LoanAge_max"
)

type source int

const (
	fromLoanID source = iota
	fromDefault
	fromSnapshot
	fromMaxAge
)

type planColumn struct {
	spec     schema.ColumnSpec
	src      source
	snapshot int
	layout   string
}

// Plan is the ordered list of output columns and where each one comes from.
type Plan struct {
	columns []planColumn
	index   map[string]int
}

// NewPlan lays out the output table: the loan identifier (when included),
// Default_in_12M, the snapshot columns in the given order, then LoanAge_max.
// snapshot must be the reducer's resolved snapshot columns so positions line
// up with LoanSummary.Snapshot.
func NewPlan(s *schema.Schema, loanIDColumn string, includeLoanID bool, snapshot []string) *Plan {
	p := &Plan{index: make(map[string]int, len(snapshot)+3)}

	add := func(c planColumn) {
		if _, dup := p.index[c.spec.Name]; dup {
			return
		}
		p.index[c.spec.Name] = len(p.columns)
		p.columns = append(p.columns, c)
	}

	if includeLoanID {
		add(planColumn{spec: schema.ColumnSpec{Name: loanIDColumn, Type: schema.String}, src: fromLoanID})
	}
	add(planColumn{spec: schema.ColumnSpec{Name: DefaultColumn, Type: schema.Integer}, src: fromDefault})
	for i, name := range snapshot {
		spec, ok := s.Lookup(name)
		if !ok {
			spec = schema.ColumnSpec{Name: name, Type: schema.String}
		}
		if includeLoanID && name == loanIDColumn {
			continue
		}
		add(planColumn{spec: spec, src: fromSnapshot, snapshot: i, layout: dateLayout(spec)})
	}
	add(planColumn{spec: schema.ColumnSpec{Name: LoanAgeMaxColumn, Type: schema.Float}, src: fromMaxAge})

	return p
}

// Columns returns the output columns in row order.
func (p *Plan) Columns() []schema.ColumnSpec {
	out := make([]schema.ColumnSpec, len(p.columns))
	for i, c := range p.columns {
		out[i] = c.spec
	}
	return out
}

// Index returns the row position of an output column.
func (p *Plan) Index(name string) (int, bool) {
	i, ok := p.index[name]
	return i, ok
}

// Len returns the number of output columns.
func (p *Plan) Len() int { return len(p.columns) }

// Caster applies a Plan. It keeps no state between calls.
type Caster struct {
	plan *Plan
}

// New returns a Caster for plan.
func New(plan *Plan) *Caster {
	return &Caster{plan: plan}
}

// Plan returns the caster's output plan.
func (c *Caster) Plan() *Plan { return c.plan }

// Cast types every column of sum. Values that do not parse become missing and
// are counted in stats per column; blanks are counted as missing. Cast never
// fails.
func (c *Caster) Cast(sum model.LoanSummary, stats *model.Stats) model.Row {
	row := model.Row{LoanID: sum.LoanID, Values: make([]value.Value, len(c.plan.columns))}

	for i, col := range c.plan.columns {
		var (
			v  value.Value
			ok = true
		)
		switch col.src {
		case fromLoanID:
			v, ok = parse(col.spec.Type, col.layout, sum.LoanID)
		case fromDefault:
			v = value.Int(int64(sum.DefaultIn12M))
		case fromMaxAge:
			if sum.HasLoanAge {
				v = value.Float(sum.MaxLoanAge)
			}
		case fromSnapshot:
			raw := ""
			if col.snapshot < len(sum.Snapshot) {
				raw = sum.Snapshot[col.snapshot]
			}
			v, ok = parse(col.spec.Type, col.layout, raw)
		}

		switch {
		case !ok:
			stats.AddFailure(col.spec.Name)
		case v.IsMissing():
			stats.AddMissing(col.spec.Name)
		}
		row.Values[i] = v
	}

	return row
}

// Value casts one raw field to the column's type. Blank input yields a missing
// value with ok=true; input that does not parse yields a missing value with
// ok=false.
func Value(spec schema.ColumnSpec, raw string) (value.Value, bool) {
	return parse(spec.Type, dateLayout(spec), raw)
}

// dateLayout returns the Go layout of a Date column. A format without a Go
// equivalent yields "", under which every non-blank value fails to cast.
func dateLayout(spec schema.ColumnSpec) string {
	if spec.Type != schema.Date {
		return ""
	}
	layout, err := spec.Layout()
	if err != nil {
		return ""
	}
	return layout
}

func parse(t schema.SemanticType, layout, raw string) (value.Value, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return value.Null(), true
	}

	switch t {
	case schema.Date:
		if layout == "" {
			return value.Null(), false
		}
		d, err := time.Parse(layout, trimmed)
		if err != nil {
			return value.Null(), false
		}
		return value.Time(d), true

	case schema.Integer:
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return value.Int(n), true
		}
		// Integral values written with a decimal tail, e.g. "360.0".
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
			return value.Null(), false
		}
		return value.Int(int64(f)), true

	case schema.Float:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return value.Null(), false
		}
		return value.Float(f), true

	default:
		return value.Str(raw), true
	}
}
