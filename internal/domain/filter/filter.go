// Package filter drops loans observed for too short a history.
package filter

import (
	"github.com/okian/loanlabel/internal/domain/cast"
	"github.com/okian/loanlabel/internal/domain/model"
)

// MinHistoryMonths is the smallest LoanAge_max a retained loan may have.
const MinHistoryMonths = 15

// HistoryFilter keeps rows whose typed LoanAge_max is at least MinHistoryMonths.
type HistoryFilter struct {
	ageIndex int
}

// New returns a filter reading LoanAge_max from plan.
func New(plan *cast.Plan) *HistoryFilter {
	i, ok := plan.Index(cast.LoanAgeMaxColumn)
	if !ok {
		i = -1
	}
	return &HistoryFilter{ageIndex: i}
}

// Keep reports whether row has enough history. A missing LoanAge_max is
// not enough.
func (f *HistoryFilter) Keep(row model.Row) bool {
	if f.ageIndex < 0 || f.ageIndex >= len(row.Values) {
		return false
	}
	age, ok := row.Values[f.ageIndex].AsFloat()
	return ok && age >= MinHistoryMonths
}

// Apply splits rows into kept and dropped. The kept slice reuses the backing
// array of rows.
func (f *HistoryFilter) Apply(rows []model.Row) (kept []model.Row, dropped int) {
	kept = rows[:0]
	for _, r := range rows {
		if f.Keep(r) {
			kept = append(kept, r)
			continue
		}
		dropped++
	}
	return kept, dropped
}
