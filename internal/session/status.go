package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is a parsed s3270 status line. Every command response ends with one
// of these followed by "ok" or "error".
type Status struct {
	Keyboard   byte // L=locked, U=unlocked, E=error
	Formatted  byte // F=formatted, U=unformatted
	Protection byte // P=protected, U=unprotected
	Connection byte // C=connected, N=not connected
	Mode       byte // I=3270, N=NVT, P=processing
	Model      string
	Rows       int
	Cols       int
	CursorRow  int // 0-based as reported
	CursorCol  int
	WindowID   string
	ExecTime   float64
}

// Connected reports whether the status line shows a live host connection.
func (s Status) Connected() bool {
	return s.Connection == 'C'
}

// InputReady reports whether the keyboard is unlocked for typing.
func (s Status) InputReady() bool {
	return s.Connected() && s.Keyboard == 'U'
}

// ParseStatus parses the 12-field s3270 status line, e.g.
//
//	U F U C(127.0.0.1) I 2 24 80 6 15 0x0 0.013
func ParseStatus(line string) (Status, error) {
	parts := strings.Fields(line)
	if len(parts) < 12 {
		return Status{}, fmt.Errorf("invalid status line: %q", line)
	}

	var st Status
	st.Keyboard = parts[0][0]
	st.Formatted = parts[1][0]
	st.Protection = parts[2][0]
	st.Connection = parts[3][0]
	st.Mode = parts[4][0]
	st.Model = parts[5]

	rows, err := strconv.Atoi(parts[6])
	if err != nil {
		return Status{}, fmt.Errorf("invalid status rows %q: %w", parts[6], err)
	}
	cols, err := strconv.Atoi(parts[7])
	if err != nil {
		return Status{}, fmt.Errorf("invalid status cols %q: %w", parts[7], err)
	}
	st.Rows, st.Cols = rows, cols

	// Cursor fields are best-effort; a garbled cursor is not fatal.
	st.CursorRow, _ = strconv.Atoi(parts[8])
	st.CursorCol, _ = strconv.Atoi(parts[9])

	st.WindowID = parts[10]
	st.ExecTime, _ = strconv.ParseFloat(strings.TrimSuffix(parts[11], "s"), 64)

	return st, nil
}

// looksLikeStatus reports whether a response line could be a status line.
func looksLikeStatus(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case 'L', 'U', 'E':
		return len(strings.Fields(line)) >= 12
	}
	return false
}
