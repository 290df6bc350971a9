// Package record defines the unit the sorter works on: a numbered line of
// text, parsed from and formatted back to "<number>. <text>".
package record

import (
	"cmp"
	"strconv"
	"strings"
)

// Separator splits the number from the text. Only its first occurrence counts.
const Separator = ". "

// Record is a single parsed input line.
type Record struct {
	Number int64
	Text   string
}

// Compare orders records by text (byte-wise) and then by number.
func Compare(a, b Record) int {
	if c := cmp.Compare(a.Text, b.Text); c != 0 {
		return c
	}
	return cmp.Compare(a.Number, b.Number)
}

// Less reports whether a sorts strictly before b.
func Less(a, b Record) bool {
	return Compare(a, b) < 0
}

// Less reports whether r sorts strictly before t.
func (r Record) Less(t Record) bool {
	return Compare(r, t) < 0
}

// String formats the record without the trailing newline.
func (r Record) String() string {
	return strconv.FormatInt(r.Number, 10) + Separator + r.Text
}

// AppendLine appends the record and a trailing newline to b.
func AppendLine(b []byte, r Record) []byte {
	b = strconv.AppendInt(b, r.Number, 10)
	b = append(b, Separator...)
	b = append(b, r.Text...)
	return append(b, '\n')
}

// LineSize is the number of bytes AppendLine produces for r.
func LineSize(r Record) int {
	n := len(r.Text) + len(Separator) + 1
	if r.Number < 0 {
		n++
	}
	v := r.Number
	for {
		n++
		v /= 10
		if v == 0 {
			return n
		}
	}
}

// Parse parses a line of the form "<number>. <text>". Lines that do not
// match are reported with ok == false; they are not an error.
func Parse(line string) (Record, bool) {
	num, text, found := strings.Cut(line, Separator)
	if !found {
		return Record{}, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Record{}, false
	}
	return Record{Number: n, Text: strings.TrimSpace(text)}, true
}
