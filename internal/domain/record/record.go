// Package record defines the raw monthly performance observation.
package record

// RawRecord is one monthly observation as read from a raw file. Values are
// positional and follow the derived schema; the schema maps names to
// positions. Seq is the arrival order across the whole input and breaks ties
// when records share a reporting period.
type RawRecord struct {
	Seq    uint64
	Values []string
}

// New builds a RawRecord.
func New(seq uint64, values []string) RawRecord {
	return RawRecord{Seq: seq, Values: values}
}

// Get returns the value at position i, or "" when the record is short.
func (r RawRecord) Get(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}
