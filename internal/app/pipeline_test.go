package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/okian/loanlabel/internal/adapters/glossary"
	service "github.com/okian/loanlabel/internal/app"
	"github.com/okian/loanlabel/internal/config"
	"github.com/okian/loanlabel/internal/synth"
	"github.com/okian/loanlabel/pkg/logger"
	"github.com/okian/loanlabel/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

const glossaryCSV = `Field Position,Field Name,Description,Notes,Allowable Values,Reference,Single-Family,Multifamily,Standard,Type,Format
1,Loan Identifier,,,,,Y,,,ALPHA-NUMERIC,X(12)
2,Monthly Reporting Period,,,,,Y,,,DATE,MMYYYY
3,Channel,,,,,Y,,,ALPHA,X(1)
4,Original UPB,,,,,Y,,,NUMERIC,9(5).9999
5,Original Loan Term,,,,,Y,,,NUMERIC,9(5)
6,Loan Age,,,,,Y,,,NUMERIC,9(3)
7,Current Loan Delinquency Status,,,,,Y,,,ALPHA-NUMERIC,X(2)
8,Interest Only Loan Indicator,,,,,Y,,NA,ALPHA,X(1)
`

// perfLine formats one raw record in glossary order.
func perfLine(id string, age int, code, channel string) string {
	month := 1 + age%12
	year := 2020 + age/12
	return fmt.Sprintf("%s|%02d%04d|%s|250000.5|360|%d|%s", id, month, year, channel, age, code)
}

type fixture struct {
	dir string
	cfg *config.Config
}

// newFixture writes L1 (ages 0..20, seriously delinquent at age 5) and L2
// (ages 0..10, always current) across two files, interleaved.
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	if err := os.MkdirAll(raw, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "glossary.csv"), []byte(glossaryCSV), 0o600); err != nil {
		t.Fatal(err)
	}

	var a, b []string
	for age := 20; age >= 0; age-- {
		code, channel := "0", "R"
		if age == 5 {
			code = "3"
		}
		if age > 0 {
			channel = "C" // only the earliest record feeds the snapshot
		}
		a = append(a, perfLine("L1", age, code, channel))
		if age <= 10 {
			b = append(b, perfLine("L2", age, "0", "B"))
		}
	}
	if err := os.WriteFile(filepath.Join(raw, "2020Q1.csv"), []byte(strings.Join(append(a[:10:10], b[:5]...), "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(raw, "2020Q2.csv"), []byte(strings.Join(append(b[5:], a[10:]...), "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.New()
	cfg.RawDir = raw
	cfg.GlossaryPath = filepath.Join(dir, "glossary.csv")
	cfg.OutPath = filepath.Join(dir, "processed", "train_dataset.parquet")
	cfg.SnapshotColumns = []string{"Channel", "Original UPB", "Original Loan Term", "Property State"}
	cfg.PartitionCount = 4
	cfg.WorkerCount = 2
	return fixture{dir: dir, cfg: cfg}
}

// readTable returns every row keyed by column name.
func readTable(path string) ([]map[string]parquet.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, err
	}

	fields := pf.Schema().Fields()
	r := parquet.NewReader(f, pf.Schema())
	defer r.Close()

	var out []map[string]parquet.Value
	buf := make([]parquet.Row, 64)
	for {
		n, err := r.ReadRows(buf)
		for _, pr := range buf[:n] {
			m := make(map[string]parquet.Value, len(pr))
			for _, v := range pr {
				m[fields[v.Column()].Name()] = v
			}
			out = append(out, m)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func columnNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fd := range pf.Schema().Fields() {
		names = append(names, fd.Name())
	}
	return names, nil
}

func TestPipelineRun(t *testing.T) {
	Convey("Given raw records for two loans", t, func() {
		So(logger.InitWithWriter(io.Discard), ShouldBeNil)
		fx := newFixture(t)

		for _, spill := range []bool{true, false} {
			Convey(fmt.Sprintf("When the pipeline runs with spill=%v", spill), func() {
				sum, err := service.New(service.WithConfig(fx.cfg), service.WithSpill(spill)).Run(context.Background())
				So(err, ShouldBeNil)

				Convey("Then only the loan with enough history should be written", func() {
					rows, err := readTable(fx.cfg.OutPath)
					So(err, ShouldBeNil)
					So(rows, ShouldHaveLength, 1)

					r := rows[0]
					So(string(r["Loan Identifier"].ByteArray()), ShouldEqual, "L1")
					So(r["Default_in_12M"].Int64(), ShouldEqual, 1)
					So(r["LoanAge_max"].Double(), ShouldEqual, 20.0)
					So(string(r["Channel"].ByteArray()), ShouldEqual, "R")
					So(r["Original UPB"].Double(), ShouldEqual, 250000.5)
					So(r["Original Loan Term"].Int64(), ShouldEqual, 360)
				})

				Convey("Then the summary should account for every loan", func() {
					So(sum.Files, ShouldEqual, 2)
					So(sum.RecordsRead, ShouldEqual, 32)
					So(sum.WidthMismatches, ShouldEqual, 0)
					So(sum.LoansProcessed, ShouldEqual, 2)
					So(sum.LoansKept, ShouldEqual, 1)
					So(sum.LoansFiltered, ShouldEqual, 1)
					So(sum.RowsWritten, ShouldEqual, 1)
					So(sum.DroppedColumns, ShouldResemble, []string{"Property State"})
					So(sum.Ambiguities, ShouldBeEmpty)
					So(sum.TotalCastFailures(), ShouldEqual, 0)
					So(sum.RunID, ShouldNotBeEmpty)
				})

				Convey("Then the table should carry the label columns", func() {
					names, err := columnNames(fx.cfg.OutPath)
					So(err, ShouldBeNil)
					So(names, ShouldContain, "Default_in_12M")
					So(names, ShouldContain, "LoanAge_max")
					So(names, ShouldNotContain, "Loan Age")
					So(names, ShouldNotContain, "Property State")
				})
			})
		}

		Convey("When a raw line is short and a value malformed", func() {
			extra := perfLine("L3", 0, "0", "R") + "\n" + "L3|022020|R|not-a-number\n"
			for age := 2; age <= 16; age++ {
				extra += perfLine("L3", age, "0", "R") + "\n"
			}
			So(os.WriteFile(filepath.Join(fx.cfg.RawDir, "2020Q3.csv"), []byte(extra), 0o600), ShouldBeNil)
			fx.cfg.SnapshotColumns = []string{"Original UPB"}

			sum, err := service.New(service.WithConfig(fx.cfg)).Run(context.Background())

			Convey("Then the run should still succeed and count the problems", func() {
				So(err, ShouldBeNil)
				So(sum.WidthMismatches, ShouldEqual, 1)
				So(sum.LoansKept, ShouldEqual, 2)
				rows, err := readTable(fx.cfg.OutPath)
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 2)
			})
		})

		Convey("When some records carry no loan identifier", func() {
			var blank []string
			for age := 0; age <= 15; age++ {
				blank = append(blank, perfLine("", age, "0", "R"))
			}
			So(os.WriteFile(filepath.Join(fx.cfg.RawDir, "2020Q4.csv"), []byte(strings.Join(blank, "\n")+"\n"), 0o600), ShouldBeNil)

			sum, err := service.New(service.WithConfig(fx.cfg)).Run(context.Background())

			Convey("Then they should be counted and left out of the table", func() {
				So(err, ShouldBeNil)
				So(sum.RecordsRead, ShouldEqual, 48)
				So(sum.BlankLoanIDs, ShouldEqual, 16)
				So(sum.LoansProcessed, ShouldEqual, 2)
				So(sum.RowsWritten, ShouldEqual, 1)
				rows, err := readTable(fx.cfg.OutPath)
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(string(rows[0]["Loan Identifier"].ByteArray()), ShouldEqual, "L1")
			})

			Convey("Then the run metrics should carry the count and the run id", func() {
				prom := filepath.Join(fx.dir, "run.prom")
				So(metrics.WriteTextfile(prom), ShouldBeNil)
				data, err := os.ReadFile(prom)
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring,
					fmt.Sprintf(`loanlabel_pipeline_blank_loan_id_records_total{run_id=%q} 16`, sum.RunID))
			})
		})

		Convey("When the table cannot be published", func() {
			// A non-empty directory at the output path makes the final rename fail.
			So(os.MkdirAll(filepath.Join(fx.cfg.OutPath, "occupied"), 0o750), ShouldBeNil)
			fx.cfg.MetricsNamespace = "crt"

			sum, err := service.New(service.WithConfig(fx.cfg)).Run(context.Background())

			Convey("Then the run should fail but still report the reduced loans", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "save output")
				So(sum.LoansProcessed, ShouldEqual, 2)
				So(sum.RowsWritten, ShouldEqual, 0)

				prom := filepath.Join(fx.dir, "failed.prom")
				So(metrics.WriteTextfile(prom), ShouldBeNil)
				data, err := os.ReadFile(prom)
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring,
					fmt.Sprintf(`crt_pipeline_loans_reduced_total{run_id=%q} 2`, sum.RunID))
				So(string(data), ShouldContainSubstring,
					fmt.Sprintf(`crt_pipeline_run_last_success_timestamp_seconds{run_id=%q} 0`, sum.RunID))
			})
		})

		Convey("When the glossary lacks a key column", func() {
			g := strings.ReplaceAll(glossaryCSV, "6,Loan Age,,,,,Y,,,NUMERIC,9(3)\n", "")
			So(os.WriteFile(fx.cfg.GlossaryPath, []byte(g), 0o600), ShouldBeNil)

			_, err := service.New(service.WithConfig(fx.cfg)).Run(context.Background())

			Convey("Then the run should fail before reading raw data", func() {
				So(errors.Is(err, service.ErrSchemaIncomplete), ShouldBeTrue)
				_, statErr := os.Stat(fx.cfg.OutPath)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When the glossary is missing", func() {
			fx.cfg.GlossaryPath = filepath.Join(fx.dir, "nope.xlsx")
			_, err := service.New(service.WithConfig(fx.cfg)).Run(context.Background())

			Convey("Then the run should report it", func() {
				So(errors.Is(err, glossary.ErrGlossaryUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the raw files hold no records", func() {
			empty := filepath.Join(fx.dir, "empty")
			So(os.MkdirAll(empty, 0o750), ShouldBeNil)
			So(os.WriteFile(filepath.Join(empty, "2021Q1.csv"), nil, 0o600), ShouldBeNil)
			fx.cfg.RawDir = empty

			_, err := service.New(service.WithConfig(fx.cfg)).Run(context.Background())

			Convey("Then the run should fail with no output", func() {
				So(errors.Is(err, service.ErrNoRecords), ShouldBeTrue)
				_, statErr := os.Stat(fx.cfg.OutPath)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When the run is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := service.New(service.WithConfig(fx.cfg)).Run(ctx)

			Convey("Then nothing should be published", func() {
				So(err, ShouldNotBeNil)
				_, statErr := os.Stat(fx.cfg.OutPath)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})
	})
}

func TestPipelineGenerated(t *testing.T) {
	Convey("Given a generated book of loans", t, func() {
		So(logger.InitWithWriter(io.Discard), ShouldBeNil)
		dir := t.TempDir()
		m, err := synth.Generate(dir, synth.Options{Loans: 150, Files: 5, Seed: 42, MaxHistory: 30})
		So(err, ShouldBeNil)

		cfg := config.New()
		cfg.RawDir = m.RawDir
		cfg.GlossaryPath = m.GlossaryPath
		cfg.OutPath = filepath.Join(dir, "train_dataset.parquet")
		cfg.PartitionCount = 7
		cfg.WorkerCount = 3
		cfg.QueueSize = 2 // fewer slots than partitions
		cfg.BatchSize = 16

		for _, spill := range []bool{true, false} {
			Convey(fmt.Sprintf("When labeled with spill=%v", spill), func() {
				sum, err := service.New(service.WithConfig(cfg), service.WithSpill(spill)).Run(context.Background())
				So(err, ShouldBeNil)

				Convey("Then every kept loan should match its expected label", func() {
					So(sum.RecordsRead, ShouldEqual, m.Records)
					So(sum.LoansProcessed, ShouldEqual, len(m.Loans))
					So(sum.LoansKept, ShouldEqual, m.Kept())
					So(sum.Ambiguities, ShouldHaveLength, 1)

					rows, err := readTable(cfg.OutPath)
					So(err, ShouldBeNil)
					So(rows, ShouldHaveLength, m.Kept())

					seen := make(map[string]bool, len(rows))
					for _, r := range rows {
						id := string(r["Loan Identifier"].ByteArray())
						exp, ok := m.Loans[id]
						So(ok, ShouldBeTrue)
						So(seen[id], ShouldBeFalse)
						seen[id] = true

						So(exp.Kept, ShouldBeTrue)
						So(r["Default_in_12M"].Int64(), ShouldEqual, exp.DefaultIn12M)
						So(r["LoanAge_max"].Double(), ShouldEqual, exp.LoanAgeMax)
						So(string(r["Servicer Name"].ByteArray()), ShouldEqual, exp.Servicer)
						So(r["Original UPB"].Double(), ShouldAlmostEqual, exp.OriginalUPB, 0.001)
					}
				})
			})
		}
	})
}
