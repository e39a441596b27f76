// Package model contains the values passed between pipeline stages.
package model

import "github.com/okian/loanlabel/internal/domain/value"

// LoanSummary is the reduced, still untyped view of one loan.
type LoanSummary struct {
	LoanID       string
	DefaultIn12M int      // 1 when a default status appears within the early window
	Snapshot     []string // origination fields of the earliest record, in plan order
	MaxLoanAge   float64
	HasLoanAge   bool // false when no record carried a parseable loan age
	Records      int
}

// Row is one typed output row; Values follow the cast plan's column order.
type Row struct {
	LoanID string
	Values []value.Value
}

// Batch is what a worker hands to the writer for one partition.
type Batch struct {
	Partition int
	Rows      []Row
	Stats     Stats
	Err       error
}

// Stats counts per-partition outcomes. Each worker owns its own Stats and the
// writer merges them, so no locking is involved.
type Stats struct {
	Records      int64
	BlankLoanIDs int64 // records skipped for a blank loan identifier
	Loans        int64
	Kept         int64
	Filtered     int64
	CastFailures map[string]int64
	CastMissing  map[string]int64
}

// NewStats returns empty Stats with allocated maps.
func NewStats() Stats {
	return Stats{
		CastFailures: make(map[string]int64),
		CastMissing:  make(map[string]int64),
	}
}

// AddFailure counts one unparseable value in column.
func (s *Stats) AddFailure(column string) {
	if s.CastFailures == nil {
		s.CastFailures = make(map[string]int64)
	}
	s.CastFailures[column]++
}

// AddMissing counts one blank value in column.
func (s *Stats) AddMissing(column string) {
	if s.CastMissing == nil {
		s.CastMissing = make(map[string]int64)
	}
	s.CastMissing[column]++
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.Records += o.Records
	s.BlankLoanIDs += o.BlankLoanIDs
	s.Loans += o.Loans
	s.Kept += o.Kept
	s.Filtered += o.Filtered
	for k, v := range o.CastFailures {
		if s.CastFailures == nil {
			s.CastFailures = make(map[string]int64)
		}
		s.CastFailures[k] += v
	}
	for k, v := range o.CastMissing {
		if s.CastMissing == nil {
			s.CastMissing = make(map[string]int64)
		}
		s.CastMissing[k] += v
	}
}
