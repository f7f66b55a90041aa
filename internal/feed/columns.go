package feed

import (
	"encoding/csv"
	"io"
	"strings"
)

var columnNameSanitizer = strings.NewReplacer(" ", "_", ".", "", "-", "_")

func normalizeColumnName(name string) string {
	name = strings.TrimSpace(strings.ToLower(strings.TrimPrefix(name, "\ufeff")))
	return columnNameSanitizer.Replace(name)
}

// header indexes the columns of a CSV feed by normalized name.
type header []string

// colIndex returns the index of the first column matching any of names, or -1.
func (h header) colIndex(names ...string) int {
	targets := make(map[string]struct{}, len(names))
	for _, name := range names {
		targets[normalizeColumnName(name)] = struct{}{}
	}
	for i, col := range h {
		if _, ok := targets[normalizeColumnName(col)]; ok {
			return i
		}
	}
	return -1
}

// record is one CSV row with positional accessors.
type record []string

func (r record) get(idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	return reader
}
