// Package reduce turns all monthly records of one loan into a single summary:
// the origination snapshot, the early-default label and the observed history
// length.
package reduce

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/record"
	"github.com/okian/loanlabel/internal/domain/schema"
)

// Labeling policy constants.
const (
	// EarlyWindowAge bounds the label window: records with LoanAge below it count.
	EarlyWindowAge = 12
	// DefaultDelinquency is the first delinquency bucket treated as a default.
	DefaultDelinquency = 3
	// REOStatus is the real-estate-owned terminal status code.
	REOStatus = "R"
)

// unparsedPeriod sorts records without a readable reporting period last.
const unparsedPeriod = math.MaxInt64

// Columns names the key columns of the performance records.
type Columns struct {
	LoanID      string
	Period      string
	LoanAge     string
	Delinquency string
}

// Reducer reduces loan groups. It holds only resolved column positions and is
// safe for concurrent use.
type Reducer struct {
	loanID       int
	period       int
	loanAge      int
	delinquency  int
	periodLayout string

	snapshot      []int
	snapshotNames []string
}

// New resolves the key and snapshot columns against the schema. Snapshot
// columns the schema does not know are returned as missing and left out.
func New(s *schema.Schema, cols Columns, snapshot []string) (*Reducer, []string, error) {
	r := &Reducer{}

	keys := []struct {
		name string
		dst  *int
	}{
		{cols.LoanID, &r.loanID},
		{cols.Period, &r.period},
		{cols.LoanAge, &r.loanAge},
		{cols.Delinquency, &r.delinquency},
	}
	for _, k := range keys {
		i, ok := s.Index(k.name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrMissingColumn, k.name)
		}
		*k.dst = i
	}

	format := schema.DefaultDateFormat
	if spec, _ := s.Lookup(cols.Period); spec.Type == schema.Date && spec.ParseFormat != "" {
		format = spec.ParseFormat
	}
	layout, err := schema.DateLayout(format)
	if err != nil {
		return nil, nil, fmt.Errorf("period column %q: %w", cols.Period, err)
	}
	r.periodLayout = layout

	var missing []string
	seen := make(map[string]bool, len(snapshot))
	for _, name := range snapshot {
		if seen[name] {
			continue
		}
		seen[name] = true
		i, ok := s.Index(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		r.snapshot = append(r.snapshot, i)
		r.snapshotNames = append(r.snapshotNames, name)
	}

	return r, missing, nil
}

// SnapshotColumns returns the snapshot columns in the order of LoanSummary.Snapshot.
func (r *Reducer) SnapshotColumns() []string {
	out := make([]string, len(r.snapshotNames))
	copy(out, r.snapshotNames)
	return out
}

// LoanIDIndex returns the schema position of the loan identifier.
func (r *Reducer) LoanIDIndex() int { return r.loanID }

type keyed struct {
	period int64
	rec    record.RawRecord
}

// Reduce summarizes one non-empty loan group. Records are ordered by reporting
// period with arrival order breaking ties, so the result does not depend on
// the order of group. Reduce never fails; unreadable fields surface as blanks
// or as HasLoanAge=false.
func (r *Reducer) Reduce(group []record.RawRecord) model.LoanSummary {
	if len(group) == 0 {
		return model.LoanSummary{}
	}

	sorted := make([]keyed, len(group))
	for i, rec := range group {
		sorted[i] = keyed{period: PeriodKey(rec.Get(r.period), r.periodLayout), rec: rec}
	}
	slices.SortStableFunc(sorted, func(a, b keyed) int {
		if c := cmp.Compare(a.period, b.period); c != 0 {
			return c
		}
		return cmp.Compare(a.rec.Seq, b.rec.Seq)
	})

	first := sorted[0].rec
	summary := model.LoanSummary{
		LoanID:   first.Get(r.loanID),
		Snapshot: make([]string, len(r.snapshot)),
		Records:  len(group),
	}
	for i, pos := range r.snapshot {
		summary.Snapshot[i] = first.Get(pos)
	}

	for _, k := range sorted {
		age, ok := parseAge(k.rec.Get(r.loanAge))
		if !ok {
			continue
		}
		if !summary.HasLoanAge || age > summary.MaxLoanAge {
			summary.MaxLoanAge = age
			summary.HasLoanAge = true
		}
		if age < EarlyWindowAge && IsDefault(k.rec.Get(r.delinquency)) {
			summary.DefaultIn12M = 1
		}
	}

	return summary
}

// IsDefault reports whether a delinquency status code marks a default: the
// REO code "R" or a numeric bucket of three months or more.
func IsDefault(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == REOStatus {
		return true
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= DefaultDelinquency
}

// PeriodKey turns a reporting period into a sortable key. Periods that do not
// match layout sort after every readable one.
func PeriodKey(raw, layout string) int64 {
	t, err := time.Parse(layout, strings.TrimSpace(raw))
	if err != nil {
		return unparsedPeriod
	}
	return t.Unix()
}

func parseAge(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	age, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(age) || math.IsInf(age, 0) {
		return 0, false
	}
	return age, true
}
