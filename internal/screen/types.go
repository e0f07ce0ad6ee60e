// Package screen models one captured terminal frame: the text grid, the
// cursor, and the input fields discovered in the attribute buffer.
package screen

import "strings"

// Position is a 1-based screen coordinate.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Field is one addressable screen region discovered from the attribute buffer.
// Fields are rebuilt on every buffer read; a field "at the same place" in two
// snapshots is a new value, matched only by position.
type Field struct {
	Row    int `json:"row"` // 1-based start position
	Col    int `json:"col"`
	Length int `json:"len"` // distance to the next field start, wrapping rows

	Protected   bool `json:"protected"`
	Numeric     bool `json:"numeric"`
	Intensified bool `json:"intensified"`
	Hidden      bool `json:"hidden"`
	Detectable  bool `json:"detectable"`
	Modified    bool `json:"modified"`

	// Extended attributes; empty when the host did not send them.
	Highlighting string `json:"highlighting,omitempty"`
	FgColor      string `json:"fg_color,omitempty"`
	BgColor      string `json:"bg_color,omitempty"`
}

// Snapshot is one captured terminal frame. It is constructed fresh on every
// screen read and never mutated in place; a new snapshot replaces the old one.
type Snapshot struct {
	Rows   int      `json:"rows"`
	Cols   int      `json:"cols"`
	Cursor Position `json:"cursor"`

	// Text is the raw newline-joined grid. Trailing padding is preserved;
	// normalization is an explicit step in the fingerprint package.
	Text string `json:"ascii"`

	// Fields are ordered by buffer scan position and do not overlap.
	Fields []Field `json:"fields"`

	// Digest is the content hash of the normalized text, lowercase hex.
	// Empty until computed.
	Digest string `json:"digest,omitempty"`
}

// Lines returns the snapshot text split into rows. The returned slice is a
// fresh copy; callers may modify it.
func (s *Snapshot) Lines() []string {
	return strings.Split(s.Text, "\n")
}

// offset returns the 0-based row-major buffer offset of a position.
func offset(row, col, cols int) int {
	return (row-1)*cols + (col - 1)
}

// End reports the 0-based buffer offset one past the last cell of the field.
func (f Field) End(cols int) int {
	return offset(f.Row, f.Col, cols) + f.Length
}

// Contains reports whether the 1-based position lies inside the field,
// honoring row wrap.
func (f Field) Contains(row, col, cols int) bool {
	pos := offset(row, col, cols)
	start := offset(f.Row, f.Col, cols)
	return pos >= start && pos < start+f.Length
}

// FieldAt returns the field covering the given position, or nil.
func FieldAt(fields []Field, row, col, cols int) *Field {
	for i := range fields {
		if fields[i].Contains(row, col, cols) {
			return &fields[i]
		}
	}
	return nil
}

// UnprotectedFields returns the input (operator-writable) fields.
func UnprotectedFields(fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if !f.Protected {
			out = append(out, f)
		}
	}
	return out
}
