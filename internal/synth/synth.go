// Package synth writes deterministic glossary and raw performance fixtures in
// the single-family loan performance layout, together with the labels a
// correct run must produce for them.
package synth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

const glossarySheet = "Glossary"

// Options controls the generated data set.
type Options struct {
	Loans       int
	Files       int
	Seed        uint64
	MaxHistory  int     // longest history in months
	DefaultRate float64 // share of loans that go 90+ days delinquent early
	LateStart   float64 // share of loans whose data starts at age 12 or later
}

func (o *Options) normalize() {
	if o.Loans <= 0 {
		o.Loans = 100
	}
	if o.Files <= 0 {
		o.Files = 4
	}
	if o.MaxHistory <= 0 {
		o.MaxHistory = 36
	}
	if o.DefaultRate < 0 || o.DefaultRate > 1 {
		o.DefaultRate = 0.2
	}
	if o.LateStart < 0 || o.LateStart > 1 {
		o.LateStart = 0.1
	}
}

// Expected is the label row a loan should produce.
type Expected struct {
	LoanID       string
	DefaultIn12M int64
	LoanAgeMax   float64
	Kept         bool
	Servicer     string // servicer on the earliest record
	OriginalUPB  float64
}

// Manifest describes what Generate wrote.
type Manifest struct {
	GlossaryPath string
	RawDir       string
	Files        []string
	Records      int
	Columns      []string // raw layout, glossary order
	Ambiguous    []string // numeric columns with an unrecognized format
	Loans        map[string]Expected
}

// Kept returns how many loans survive the history filter.
func (m *Manifest) Kept() int {
	n := 0
	for _, e := range m.Loans {
		if e.Kept {
			n++
		}
	}
	return n
}

type field struct {
	name, flag, dataType, format string
}

// layout is the generated dictionary. Rows flagged NA are not part of the raw
// files.
var layout = []field{ //nolint:gochecknoglobals // fixture table
	{"Reference Pool ID", "NA", "ALPHA-NUMERIC", "X(4)"},
	{"Loan Identifier", "", "ALPHA-NUMERIC", "X(36)"},
	{"Monthly Reporting Period", "", "DATE", "MMYYYY"},
	{"Channel", "", "ALPHA", "X(1)"},
	{"Seller Name", "", "ALPHA-NUMERIC", "X(50)"},
	{"Servicer Name", "", "ALPHA-NUMERIC", "X(50)"},
	{"Original Interest Rate", "", "NUMERIC", "9(2).9999"},
	{"Original UPB", "", "NUMERIC", "9(12).99"},
	{"Original Loan Term", "", "NUMERIC", "9(3)"},
	{"Borrower Credit Score at Origination", "", "NUMERIC", "9(3)"},
	{"Loan Age", "", "NUMERIC", "9(3)"},
	{"Current Loan Delinquency Status", "", "ALPHA-NUMERIC", "X(2)"},
	{"Origination Date", "", "DATE", "MMYYYY"},
	{"Property State", "", "ALPHA", "X(2)"},
	{"Mortgage Insurance Percentage", "", "NUMERIC", "999.99"},
	{"Interest Only Loan Indicator", "NA", "ALPHA", "X(1)"},
}

var (
	sellers    = []string{"Crédit Mutuel Home Loans", "Quicken Loans", "Wells Fargo Bank, N.A.", "Other"}          //nolint:gochecknoglobals // fixture table
	servicers  = []string{"Matrix Financial", "Lakeview Loan Servicing", "Nationstar Mortgage", "Other Servicers"} //nolint:gochecknoglobals // fixture table
	channels   = []string{"R", "C", "B"}                                                                           //nolint:gochecknoglobals // fixture table
	states     = []string{"CA", "TX", "FL", "NY", "WA", "PR"}                                                      //nolint:gochecknoglobals // fixture table
	lateCodes  = []string{"R", "3", "4", "6", "12"}                                                                //nolint:gochecknoglobals // fixture table
	mildCodes  = []string{"0", "0", "0", "1", "2", "XX"}                                                           //nolint:gochecknoglobals // fixture table
	loanIDBase = uuid.MustParse("6f1c0a52-3d7e-4d8e-9b0a-1f2e3d4c5b6a")                                            //nolint:gochecknoglobals // id namespace
)

// Generate writes glossary.xlsx and opts.Files raw files under dir/raw. The
// same options always produce the same bytes.
func Generate(dir string, opts Options) (*Manifest, error) {
	opts.normalize()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	m := &Manifest{
		GlossaryPath: filepath.Join(dir, "glossary.xlsx"),
		RawDir:       filepath.Join(dir, "raw"),
		Loans:        make(map[string]Expected, opts.Loans),
	}
	for _, f := range layout {
		if f.flag == "NA" {
			continue
		}
		m.Columns = append(m.Columns, f.name)
	}
	m.Ambiguous = []string{"Mortgage Insurance Percentage"}

	if err := WriteGlossary(m.GlossaryPath); err != nil {
		return nil, err
	}

	var lines [][]string
	for i := 0; i < opts.Loans; i++ {
		loanLines, exp := genLoan(rng, i, opts)
		m.Loans[exp.LoanID] = exp
		lines = append(lines, loanLines...)
	}
	rng.Shuffle(len(lines), func(a, b int) { lines[a], lines[b] = lines[b], lines[a] })
	m.Records = len(lines)

	if err := os.MkdirAll(m.RawDir, 0o750); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}
	perFile := (len(lines) + opts.Files - 1) / opts.Files
	for f := 0; f < opts.Files; f++ {
		lo := min(f*perFile, len(lines))
		hi := min(lo+perFile, len(lines))
		path := filepath.Join(m.RawDir, fmt.Sprintf("%dQ%d.csv", 2020+f/4, f%4+1))
		if err := writeRaw(path, lines[lo:hi]); err != nil {
			return nil, err
		}
		m.Files = append(m.Files, path)
	}

	return m, nil
}

func genLoan(rng *rand.Rand, i int, opts Options) ([][]string, Expected) {
	id := uuid.NewSHA1(loanIDBase, []byte(strconv.FormatUint(opts.Seed, 10)+"/"+strconv.Itoa(i))).String()
	orig := time.Date(2016+rng.IntN(4), time.Month(1+rng.IntN(12)), 1, 0, 0, 0, 0, time.UTC)

	startAge := 0
	if rng.Float64() < opts.LateStart {
		startAge = 12 + rng.IntN(6)
	}
	lastAge := startAge + rng.IntN(opts.MaxHistory)

	defaultAge := -1
	if rng.Float64() < opts.DefaultRate {
		defaultAge = rng.IntN(12)
	}

	upb := float64(50000+rng.IntN(700000)) + float64(rng.IntN(100))/100
	static := map[string]string{
		"Channel":                              channels[rng.IntN(len(channels))],
		"Seller Name":                          sellers[rng.IntN(len(sellers))],
		"Original Interest Rate":               strconv.FormatFloat(2.5+float64(rng.IntN(4000))/1000, 'f', 3, 64),
		"Original UPB":                         strconv.FormatFloat(upb, 'f', 2, 64),
		"Original Loan Term":                   []string{"360", "180", "240"}[rng.IntN(3)],
		"Borrower Credit Score at Origination": strconv.Itoa(620 + rng.IntN(200)),
		"Origination Date":                     monthYear(orig),
		"Property State":                       states[rng.IntN(len(states))],
		"Mortgage Insurance Percentage":        "",
	}
	if rng.IntN(4) == 0 {
		static["Mortgage Insurance Percentage"] = strconv.Itoa(6 + rng.IntN(30))
	}
	if rng.IntN(20) == 0 {
		static["Borrower Credit Score at Origination"] = ""
	}

	servicer := servicers[rng.IntN(len(servicers))]
	exp := Expected{
		LoanID:      id,
		LoanAgeMax:  float64(lastAge),
		Kept:        lastAge >= 15,
		Servicer:    servicer,
		OriginalUPB: upb,
	}

	var lines [][]string
	for age := startAge; age <= lastAge; age++ {
		code := mildCodes[rng.IntN(len(mildCodes))]
		switch {
		case age == defaultAge:
			code = lateCodes[rng.IntN(len(lateCodes))]
		case age >= 12 && rng.IntN(10) == 0:
			code = lateCodes[rng.IntN(len(lateCodes))]
		}
		if age < 12 && isDefault(code) {
			exp.DefaultIn12M = 1
		}

		values := map[string]string{
			"Loan Identifier":                 id,
			"Monthly Reporting Period":        monthYear(orig.AddDate(0, age, 0)),
			"Servicer Name":                   servicer,
			"Loan Age":                        strconv.Itoa(age),
			"Current Loan Delinquency Status": code,
		}
		// Servicing transfers change the servicer after the first month.
		if age > startAge && rng.IntN(8) == 0 {
			servicer = servicers[rng.IntN(len(servicers))]
		}

		line := make([]string, 0, len(layout))
		for _, f := range layout {
			if f.flag == "NA" {
				continue
			}
			if v, ok := values[f.name]; ok {
				line = append(line, v)
				continue
			}
			line = append(line, static[f.name])
		}
		lines = append(lines, line)
	}

	return lines, exp
}

func isDefault(code string) bool {
	if code == "R" {
		return true
	}
	n, err := strconv.Atoi(code)
	return err == nil && n >= 3
}

func monthYear(t time.Time) string {
	return fmt.Sprintf("%02d%04d", int(t.Month()), t.Year())
}

// WriteGlossary writes the fixture dictionary as a workbook whose active sheet
// has one header row, names in B, flags in I, types in J and formats in K.
func WriteGlossary(path string) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName("Sheet1", glossarySheet); err != nil {
		return fmt.Errorf("glossary sheet: %w", err)
	}

	header := []any{"Field Position", "Field Name", "Description", "Notes", "Allowable Values",
		"Reference", "Single-Family", "Multifamily", "Standard", "Type", "Format"}
	if err := f.SetSheetRow(glossarySheet, "A1", &header); err != nil {
		return fmt.Errorf("glossary header: %w", err)
	}
	for i, fd := range layout {
		row := []any{i + 1, fd.name, "", "", "", "", "Y", "", fd.flag, fd.dataType, fd.format}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(glossarySheet, cell, &row); err != nil {
			return fmt.Errorf("glossary row %d: %w", i+1, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create glossary dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save glossary: %w", err)
	}
	return nil
}

// writeRaw writes pipe-delimited, headerless, Latin-1 encoded lines.
func writeRaw(path string, lines [][]string) (err error) {
	f, err := os.Create(path) //nolint:gosec // fixture path
	if err != nil {
		return fmt.Errorf("create raw file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc := charmap.ISO8859_1.NewEncoder().Writer(f)
	w := csv.NewWriter(enc)
	w.Comma = '|'
	if err := w.WriteAll(lines); err != nil {
		return errors.Join(fmt.Errorf("write raw file %s", filepath.Base(path)), err)
	}
	return nil
}
