package service

import (
	"time"

	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/schema"
)

// Summary is the run report. Per-loan and per-column problems never fail a
// run; they show up here instead.
type Summary struct {
	RunID   string
	OutPath string

	Columns         int // columns in the derived raw layout
	Files           int
	RecordsRead     int64
	WidthMismatches int64
	BlankLoanIDs    int64 // records that belong to no loan

	LoansProcessed int64
	LoansKept      int64
	LoansFiltered  int64
	RowsWritten    int64

	CastFailures   map[string]int64
	CastMissing    map[string]int64
	Ambiguities    []schema.Ambiguity
	DroppedColumns []string

	Duration time.Duration
}

func newSummary(runID, outPath string) *Summary {
	return &Summary{
		RunID:        runID,
		OutPath:      outPath,
		CastFailures: make(map[string]int64),
		CastMissing:  make(map[string]int64),
	}
}

func (s *Summary) absorb(st model.Stats) {
	s.BlankLoanIDs += st.BlankLoanIDs
	s.LoansProcessed += st.Loans
	s.LoansKept += st.Kept
	s.LoansFiltered += st.Filtered
	for k, v := range st.CastFailures {
		s.CastFailures[k] += v
	}
	for k, v := range st.CastMissing {
		s.CastMissing[k] += v
	}
}

// TotalCastFailures sums CastFailures over all columns.
func (s *Summary) TotalCastFailures() int64 {
	var n int64
	for _, v := range s.CastFailures {
		n += v
	}
	return n
}
