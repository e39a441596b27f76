package glossary_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/okian/loanlabel/internal/adapters/glossary"
	"github.com/okian/loanlabel/internal/domain/schema"
	. "github.com/smartystreets/goconvey/convey"
)

// row lays out a dictionary row the way the published workbook does: field
// name in B, standard flag in I, data type in J, format in K.
func row(field, flag, dataType, format string) []any {
	return []any{"1", field, "", "", "", "", "", "", flag, dataType, format}
}

func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			t.Fatal(err)
		}
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "glossary.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadWorkbook(t *testing.T) {
	Convey("Given a glossary workbook with a header row", t, func() {
		path := writeWorkbook(t, "Glossary", [][]any{
			row("Field Name", "Standard", "Type", "Format"),
			row("Loan Identifier", "", "ALPHA-NUMERIC", "X(12)"),
			row("Monthly Reporting Period", "", "DATE", "MMYYYY"),
			row("Reference Pool ID", "NA", "ALPHA-NUMERIC", "X(4)"),
			row("Original UPB", "", "NUMERIC", "9(12).99"),
			{"5", "Loan Age"},
		})

		Convey("When reading the active sheet", func() {
			entries, err := glossary.Read(context.Background(), path)

			Convey("Then every data row should be returned in order", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 5)
				So(entries[0], ShouldResemble, schema.GlossaryEntry{
					FieldName: "Loan Identifier", DataType: "ALPHA-NUMERIC", FormatHint: "X(12)",
				})
				So(entries[2].StandardFlag, ShouldEqual, "NA")
				So(entries[3].FormatHint, ShouldEqual, "9(12).99")
			})

			Convey("Then short rows should have null trailing cells", func() {
				So(entries[4], ShouldResemble, schema.GlossaryEntry{FieldName: "Loan Age"})
			})
		})

		Convey("When reading a sheet that does not exist", func() {
			_, err := glossary.Read(context.Background(), path, glossary.WithSheet("Nope"))

			Convey("Then the glossary should be unavailable", func() {
				So(errors.Is(err, glossary.ErrGlossaryUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the columns are remapped", func() {
			entries, err := glossary.Read(context.Background(), path,
				glossary.WithSheet("Glossary"), glossary.WithHeaderRows(0), glossary.WithColumns(1, -1, 10, 9))

			Convey("Then the chosen cells should be used", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 6)
				So(entries[1].DataType, ShouldEqual, "X(12)")
				So(entries[1].FormatHint, ShouldEqual, "ALPHA-NUMERIC")
			})
		})
	})
}

func TestReadCSV(t *testing.T) {
	Convey("Given a glossary exported as csv", t, func() {
		path := filepath.Join(t.TempDir(), "glossary.csv")
		content := "#,Field,,,,,,,Std,Type,Format\n" +
			"1,Loan Identifier,,,,,,,,ALPHA-NUMERIC,X(12)\n" +
			"2,Loan Age,,,,,,,,NUMERIC,9(3)\n"
		So(os.WriteFile(path, []byte(content), 0o600), ShouldBeNil)

		Convey("When reading it", func() {
			entries, err := glossary.Read(context.Background(), path)

			Convey("Then it should match the workbook layout", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldResemble, []schema.GlossaryEntry{
					{FieldName: "Loan Identifier", DataType: "ALPHA-NUMERIC", FormatHint: "X(12)"},
					{FieldName: "Loan Age", DataType: "NUMERIC", FormatHint: "9(3)"},
				})
			})
		})
	})
}

func TestReadErrors(t *testing.T) {
	Convey("Given unusable glossary paths", t, func() {
		dir := t.TempDir()

		Convey("When the extension is unknown", func() {
			_, err := glossary.Read(context.Background(), filepath.Join(dir, "glossary.json"))

			Convey("Then the format should be rejected", func() {
				So(errors.Is(err, glossary.ErrUnsupportedFormat), ShouldBeTrue)
			})
		})

		Convey("When the workbook does not exist", func() {
			_, err := glossary.Read(context.Background(), filepath.Join(dir, "missing.xlsx"))

			Convey("Then the glossary should be unavailable", func() {
				So(errors.Is(err, glossary.ErrGlossaryUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the csv does not exist", func() {
			_, err := glossary.Read(context.Background(), filepath.Join(dir, "missing.csv"))

			Convey("Then the glossary should be unavailable", func() {
				So(errors.Is(err, glossary.ErrGlossaryUnavailable), ShouldBeTrue)
			})
		})
	})
}
