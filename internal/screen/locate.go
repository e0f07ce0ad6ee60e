package screen

import "strings"

// LocateLabel finds the position immediately following a label in the screen
// text. The target column is the label's start plus its length plus offset,
// wrapping to subsequent rows when it passes the right edge.
//
// This is a pure text-search heuristic, independent of the attribute-based
// field list; the two can disagree. Callers that need an actual input field
// at the location must intersect with the field list (see FieldByLabel).
func LocateLabel(text, label string, labelOffset, cols int) (Position, bool) {
	if label == "" {
		return Position{}, false
	}
	if cols <= 0 {
		cols = 80
	}

	for i, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, label)
		if idx < 0 {
			continue
		}
		row := i + 1
		col := idx + len(label) + labelOffset
		for col > cols {
			row++
			col -= cols
		}
		return Position{Row: row, Col: col}, true
	}
	return Position{}, false
}

// FieldByLabel returns the first unprotected field that follows a label in
// the screen text: same-row fields past the label first, then any unprotected
// field on a later row. Returns nil when the label is absent or no input
// field follows it.
func FieldByLabel(fields []Field, text, label string) *Field {
	for i, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, label)
		if idx < 0 {
			continue
		}
		row := i + 1
		labelEnd := idx + len(label)

		for j := range fields {
			f := &fields[j]
			if !f.Protected && f.Row == row && f.Col > labelEnd {
				return f
			}
		}
		for j := range fields {
			f := &fields[j]
			if !f.Protected && f.Row > row {
				return f
			}
		}
		return nil
	}
	return nil
}
