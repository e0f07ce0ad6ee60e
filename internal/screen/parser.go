package screen

import (
	"strconv"
	"strings"
)

// colorNames maps 3270 extended color codes to their names. Unknown codes
// pass through as the raw code.
var colorNames = map[string]string{
	"f0": "neutral",
	"f1": "blue",
	"f2": "red",
	"f3": "pink",
	"f4": "green",
	"f5": "turquoise",
	"f6": "yellow",
	"f7": "white",
	"f8": "black",
	"f9": "deep_blue",
}

// ParseBuffer scans a ReadBuffer(Ascii) dump for start-of-field markers and
// returns the resulting field list, ordered by buffer position.
//
// Each data row is a "data:"-prefixed line in which a field start appears as
// an embedded SF(...) marker occupying one screen cell (the attribute byte).
// A field's length runs from its marker to the next marker in row-major
// wrapped order; the last field extends to the end of the screen. A dump with
// no markers yields an empty list. Lines without the data prefix (status
// lines, "ok", "error") are ignored; this is screen-scraping of a noisy
// transport, so robustness wins over strictness.
func ParseBuffer(lines []string, rows, cols int) []Field {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	var fields []Field
	var open *Field

	row := 0
	for _, line := range lines {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		row++
		if row > rows {
			break
		}
		data := strings.TrimPrefix(line, "data:")

		col := 1
		for i := 0; i < len(data); {
			if attrs, rest, ok := cutMarker(data[i:]); ok {
				if open != nil {
					open.Length = offset(row, col, cols) - offset(open.Row, open.Col, cols)
					fields = append(fields, *open)
				}
				f := decodeAttributes(attrs)
				f.Row = row
				f.Col = col
				open = &f
				i = len(data) - len(rest)
				col++ // the marker occupies the attribute cell
				continue
			}
			i++
			col++
		}
	}

	if open != nil {
		open.Length = rows*cols - offset(open.Row, open.Col, cols)
		fields = append(fields, *open)
	}
	return fields
}

// cutMarker recognizes an SF(...) marker at the start of s. It returns the
// attribute string, the remainder after the closing paren, and whether a
// well-formed marker was found.
func cutMarker(s string) (attrs, rest string, ok bool) {
	if !strings.HasPrefix(s, "SF(") {
		return "", "", false
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return "", "", false
	}
	return s[3:end], s[end+1:], true
}

// decodeAttributes decodes the comma-separated key=value attribute string
// carried by a field marker. Unparseable values decode as all-flags-false
// rather than failing.
func decodeAttributes(attrs string) Field {
	var f Field
	for _, pair := range strings.Split(attrs, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "c0":
			b, err := strconv.ParseUint(value, 16, 16)
			if err != nil {
				continue
			}
			f.Protected = b&0x20 != 0
			f.Numeric = b&0x10 != 0
			f.Intensified = b&0x08 != 0
			f.Hidden = b&0x0C == 0x0C
			f.Detectable = b&0x04 != 0
			f.Modified = b&0x01 != 0
		case "41":
			f.Highlighting = value
		case "42":
			f.FgColor = colorName(value)
		case "45":
			f.BgColor = colorName(value)
		}
	}
	return f
}

func colorName(code string) string {
	if name, ok := colorNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}
