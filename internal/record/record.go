package record

import (
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// Record is one parsed diagnostic line.
type Record struct {
	Line    uint32
	Column  uint32
	Message string
}

// ParseLine builds a Record from a single line.
// The column falls back to 0 when its field is not a valid index.
func ParseLine(line string) (Record, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 3 {
		return Record{}, false
	}
	lineIdx, ok := parseIndex(parts[0])
	if !ok {
		return Record{}, false
	}
	col, ok := parseIndex(parts[1])
	if !ok {
		col = 0
	}
	return Record{Line: lineIdx, Column: col, Message: parts[2]}, true
}

func parseIndex(field string) (uint32, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, false
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Parse splits text on LF or CRLF and returns the records in file order.
func Parse(text string) []Record {
	var out []Record
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if rec, ok := ParseLine(line); ok {
			out = append(out, rec)
		}
	}
	return out
}
