// Package config defines pipeline configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers defaults, an optional YAML file and environment variables.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"path/filepath"
	"runtime"
)

// DefaultOutputFile is the table name written under ProcessedDir when OutPath is unset.
const DefaultOutputFile = "train_dataset.parquet"

// Default sizing constants.
const (
	defaultPartitionCount = 64
	defaultQueueSize      = 1024
	defaultBatchSize      = 1024
)

// Glossary column positions of the single-family data dictionary workbook.
const (
	defaultGlossaryFieldCol  = 1
	defaultGlossaryFlagCol   = 8
	defaultGlossaryTypeCol   = 9
	defaultGlossaryFormatCol = 10
)

// DefaultSnapshotColumns lists the origination attributes copied from a
// loan's earliest record.
var DefaultSnapshotColumns = []string{ //nolint:gochecknoglobals // default value table
	"Channel",
	"Seller Name",
	"Servicer Name",
	"Original Interest Rate",
	"Original UPB",
	"Original Loan Term",
	"Original Loan to Value Ratio (LTV)",
	"Original Combined Loan to Value Ratio (CLTV)",
	"Number of Borrowers",
	"Debt-To-Income (DTI)",
	"Borrower Credit Score at Origination",
	"Co-Borrower Credit Score at Origination",
	"First Time Home Buyer Indicator",
	"Loan Purpose",
	"Property Type",
	"Number of Units",
	"Occupancy Status",
	"Property State",
	"Metropolitan Statistical Area (MSA)",
	"Zip Code Short",
	"Mortgage Insurance Percentage",
	"Amortization Type",
	"Mortgage Insurance Type",
	"Special Eligibility Program",
	"High Balance Loan Indicator",
	"Origination Date",
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// RawDir holds the raw performance files; RawGlob selects them.
	RawDir  string `koanf:"raw_dir"`
	RawGlob string `koanf:"raw_glob"`

	// ProcessedDir is used to derive OutPath when OutPath is empty.
	ProcessedDir string `koanf:"processed_dir"`
	OutPath      string `koanf:"out_path"`

	// GlossaryPath points at the data dictionary (.xlsx or .csv).
	GlossaryPath       string `koanf:"glossary_path"`
	GlossarySheet      string `koanf:"glossary_sheet"`
	GlossaryHeaderRows int    `koanf:"glossary_header_rows"`
	GlossaryFieldCol   int    `koanf:"glossary_field_col"`
	GlossaryFlagCol    int    `koanf:"glossary_flag_col"`
	GlossaryTypeCol    int    `koanf:"glossary_type_col"`
	GlossaryFormatCol  int    `koanf:"glossary_format_col"`

	// Delimiter and Encoding describe the raw files.
	Delimiter string `koanf:"delimiter"`
	Encoding  string `koanf:"encoding"`

	// Key columns of the performance records.
	LoanIDColumn      string `koanf:"loan_id_column"`
	PeriodColumn      string `koanf:"period_column"`
	LoanAgeColumn     string `koanf:"loan_age_column"`
	DelinquencyColumn string `koanf:"delinquency_column"`

	// SnapshotColumns are copied from each loan's first record.
	SnapshotColumns []string `koanf:"snapshot_columns"`
	IncludeLoanID   bool     `koanf:"include_loan_id"`

	// PartitionCount sets how many hash partitions records are spread over.
	PartitionCount int `koanf:"partition_count"`
	// Spill stores partitions in temp files instead of memory.
	Spill  bool   `koanf:"spill"`
	TmpDir string `koanf:"tmp_dir"`

	// WorkerCount sets the number of reduction workers.
	WorkerCount int `koanf:"worker_count"`
	QueueSize   int `koanf:"queue_size"`
	BatchSize   int `koanf:"batch_size"`

	// Compression is the parquet codec: snappy, gzip, zstd, lz4, none.
	Compression string `koanf:"compression"`

	// MetricsPath, when set, receives a Prometheus textfile after the run.
	MetricsPath string `koanf:"metrics_path"`
	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`
	// MetricsLatencyBuckets overrides the partition latency buckets (ms).
	MetricsLatencyBuckets []float64 `koanf:"metrics_latency_buckets"`
}

// New creates a Config populated with defaults.
func New() *Config {
	snapshot := make([]string, len(DefaultSnapshotColumns))
	copy(snapshot, DefaultSnapshotColumns)

	return &Config{
		LogLevel:           "info",
		RawGlob:            "*.csv",
		GlossaryHeaderRows: 1,
		GlossaryFieldCol:   defaultGlossaryFieldCol,
		GlossaryFlagCol:    defaultGlossaryFlagCol,
		GlossaryTypeCol:    defaultGlossaryTypeCol,
		GlossaryFormatCol:  defaultGlossaryFormatCol,
		Delimiter:          "|",
		Encoding:           "ISO-8859-1",
		LoanIDColumn:       "Loan Identifier",
		PeriodColumn:       "Monthly Reporting Period",
		LoanAgeColumn:      "Loan Age",
		DelinquencyColumn:  "Current Loan Delinquency Status",
		SnapshotColumns:    snapshot,
		IncludeLoanID:      true,
		PartitionCount:     defaultPartitionCount,
		Spill:              true,
		WorkerCount:        runtime.NumCPU(),
		QueueSize:          defaultQueueSize,
		BatchSize:          defaultBatchSize,
		Compression:        "snappy",
		MetricsNamespace:   "loanlabel",
	}
}

// ResolveOutPath fills OutPath from ProcessedDir when it is empty.
func (c *Config) ResolveOutPath() {
	if c.OutPath == "" && c.ProcessedDir != "" {
		c.OutPath = filepath.Join(c.ProcessedDir, DefaultOutputFile)
	}
}

// DelimiterRune returns the raw field separator.
func (c *Config) DelimiterRune() rune {
	r := []rune(c.Delimiter)
	if len(r) != 1 {
		return '|'
	}
	return r[0]
}
