package source_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/loanlabel/internal/adapters/source"
	"github.com/okian/loanlabel/internal/domain/record"
	"github.com/okian/loanlabel/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.InitWithWriter(io.Discard)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func collect(t *testing.T, r *source.Reader, width int) ([]record.RawRecord, source.Counts, error) {
	t.Helper()
	var out []record.RawRecord
	counts, err := r.Stream(context.Background(), width, func(rec record.RawRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, counts, err
}

func TestStream(t *testing.T) {
	Convey("Given a raw directory with two pipe-delimited files", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "2020Q2.csv", "L2|022020|1\nL1|032020|2\n")
		writeFile(t, dir, "2020Q1.csv", "L1|012020|0\n\nL1|022020|1|extra\nL3|012020\n")
		writeFile(t, dir, "README.txt", "not data")
		r, err := source.New(dir)
		So(err, ShouldBeNil)

		Convey("When listing files", func() {
			files, err := r.Files()

			Convey("Then only matching files should be returned in name order", func() {
				So(err, ShouldBeNil)
				So(files, ShouldHaveLength, 2)
				So(filepath.Base(files[0]), ShouldEqual, "2020Q1.csv")
				So(filepath.Base(files[1]), ShouldEqual, "2020Q2.csv")
			})
		})

		Convey("When streaming with the schema width", func() {
			recs, counts, err := collect(t, r, 3)

			Convey("Then records should carry global sequence numbers", func() {
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 5)
				for i, rec := range recs {
					So(rec.Seq, ShouldEqual, uint64(i))
				}
				So(recs[3].Values, ShouldResemble, []string{"L2", "022020", "1"})
				So(counts.Files, ShouldEqual, 2)
				So(counts.Records, ShouldEqual, 5)
			})

			Convey("Then ragged lines should be fitted and counted", func() {
				So(recs[1].Values, ShouldResemble, []string{"L1", "022020", "1"})
				So(recs[2].Values, ShouldResemble, []string{"L3", "012020", ""})
				So(counts.WidthMismatches, ShouldEqual, 2)
			})
		})

		Convey("When the callback fails", func() {
			boom := errors.New("boom")
			_, err := r.Stream(context.Background(), 3, func(record.RawRecord) error { return boom })

			Convey("Then the stream should stop with that error", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := r.Stream(ctx, 3, func(record.RawRecord) error { return nil })

			Convey("Then the stream should stop", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestEncoding(t *testing.T) {
	Convey("Given a Latin-1 encoded raw file", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "raw.csv", "L1|Cr\xe9dit Agricole\n")

		Convey("When streaming with the default encoding", func() {
			r, err := source.New(dir)
			So(err, ShouldBeNil)
			recs, _, err := collect(t, r, 2)

			Convey("Then text should be decoded to UTF-8", func() {
				So(err, ShouldBeNil)
				So(recs[0].Values[1], ShouldEqual, "Crédit Agricole")
			})
		})

		Convey("When the encoding is unknown", func() {
			_, err := source.New(dir, source.WithEncoding("no-such-charset"))

			Convey("Then construction should fail", func() {
				So(errors.Is(err, source.ErrUnknownEncoding), ShouldBeTrue)
			})
		})
	})
}

func TestOptions(t *testing.T) {
	Convey("Given comma separated .txt files", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", "L1,012020\n")

		Convey("When the glob and delimiter are set", func() {
			r, err := source.New(dir, source.WithGlob("*.txt"), source.WithDelimiter(','), source.WithEncoding("UTF-8"))
			So(err, ShouldBeNil)
			recs, _, err := collect(t, r, 0)

			Convey("Then those files should be parsed", func() {
				So(err, ShouldBeNil)
				So(recs[0].Values, ShouldResemble, []string{"L1", "012020"})
			})
		})
	})
}

func TestUnavailable(t *testing.T) {
	Convey("Given broken raw directories", t, func() {
		Convey("When the directory does not exist", func() {
			r, err := source.New(filepath.Join(t.TempDir(), "missing"))
			So(err, ShouldBeNil)
			_, err = r.Files()

			Convey("Then the source should be unavailable", func() {
				So(errors.Is(err, source.ErrSourceUnavailable), ShouldBeTrue)
			})
		})

		Convey("When nothing matches", func() {
			r, err := source.New(t.TempDir())
			So(err, ShouldBeNil)
			_, _, err = collect(t, r, 1)

			Convey("Then the source should be unavailable", func() {
				So(errors.Is(err, source.ErrSourceUnavailable), ShouldBeTrue)
			})
		})
	})
}
