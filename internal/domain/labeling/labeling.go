// Package labeling runs the per-partition transformation: group records by
// loan, reduce each loan, cast it and apply the history filter.
package labeling

import (
	"strings"

	"github.com/okian/loanlabel/internal/domain/cast"
	"github.com/okian/loanlabel/internal/domain/filter"
	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/record"
	"github.com/okian/loanlabel/internal/domain/reduce"
)

// Stage is pure and holds only read-only collaborators, so one Stage may be
// shared by every worker.
type Stage struct {
	reducer     *reduce.Reducer
	caster      *cast.Caster
	filter      *filter.HistoryFilter
	loanIDIndex int
}

// New assembles a Stage.
func New(r *reduce.Reducer, c *cast.Caster, f *filter.HistoryFilter, loanIDIndex int) *Stage {
	return &Stage{reducer: r, caster: c, filter: f, loanIDIndex: loanIDIndex}
}

// Transform reduces every loan found in records. All records of a loan must be
// in the same call; rows come out in first-seen loan order. Records with a
// blank loan identifier belong to no loan; they are counted and skipped.
func (s *Stage) Transform(partition int, records []record.RawRecord) model.Batch {
	stats := model.NewStats()
	stats.Records = int64(len(records))

	order := make([]string, 0)
	groups := make(map[string][]record.RawRecord)
	for _, rec := range records {
		id := rec.Get(s.loanIDIndex)
		if strings.TrimSpace(id) == "" {
			stats.BlankLoanIDs++
			continue
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], rec)
	}

	rows := make([]model.Row, 0, len(order))
	for _, id := range order {
		sum := s.reducer.Reduce(groups[id])
		rows = append(rows, s.caster.Cast(sum, &stats))
	}
	stats.Loans = int64(len(rows))

	kept, dropped := s.filter.Apply(rows)
	stats.Kept = int64(len(kept))
	stats.Filtered = int64(dropped)

	return model.Batch{Partition: partition, Rows: kept, Stats: stats}
}
