package glossary

// Option configures how the glossary sheet is laid out.
type Option func(*layout)

type layout struct {
	sheet      string
	headerRows int
	fieldCol   int
	flagCol    int
	typeCol    int
	formatCol  int
}

func defaultLayout() layout {
	return layout{
		headerRows: 1,
		fieldCol:   1,
		flagCol:    8,
		typeCol:    9,
		formatCol:  10,
	}
}

// WithSheet reads the named worksheet instead of the active one.
func WithSheet(name string) Option {
	return func(l *layout) {
		l.sheet = name
	}
}

// WithHeaderRows sets how many leading rows are skipped.
func WithHeaderRows(n int) Option {
	return func(l *layout) {
		if n >= 0 {
			l.headerRows = n
		}
	}
}

// WithColumns sets the zero-based positions of the field name, standard flag,
// data type and format hint cells. Negative positions are ignored.
func WithColumns(field, flag, dataType, format int) Option {
	return func(l *layout) {
		if field >= 0 {
			l.fieldCol = field
		}
		if flag >= 0 {
			l.flagCol = flag
		}
		if dataType >= 0 {
			l.typeCol = dataType
		}
		if format >= 0 {
			l.formatCol = format
		}
	}
}
