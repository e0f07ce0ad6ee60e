package golden

import (
	"fmt"
	"strings"
)

// diffContext is the number of unchanged lines shown around each hunk.
const diffContext = 3

// Diff produces a unified line diff between two texts. It exists for
// diagnostics on golden mismatches, so it favors readable hunks over a
// minimal edit script.
func Diff(fromName, toName, from, to string) string {
	a := strings.Split(from, "\n")
	b := strings.Split(to, "\n")

	ops := diffOps(a, b)
	hunks := groupHunks(ops)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n", fromName)
	fmt.Fprintf(&sb, "+++ %s\n", toName)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.aStart+1, h.aLen, h.bStart+1, h.bLen)
		for _, op := range h.ops {
			switch op.kind {
			case opEqual:
				sb.WriteString(" " + op.line + "\n")
			case opDelete:
				sb.WriteString("-" + op.line + "\n")
			case opInsert:
				sb.WriteString("+" + op.line + "\n")
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type diffOp struct {
	kind opKind
	line string
}

// diffOps computes an edit script from a to b using an LCS table.
func diffOps(a, b []string) []diffOp {
	n, m := len(a), len(b)
	// lcs[i][j] = length of the LCS of a[i:] and b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{opEqual, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{opDelete, a[i]})
			i++
		default:
			ops = append(ops, diffOp{opInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{opDelete, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{opInsert, b[j]})
	}
	return ops
}

type hunk struct {
	aStart, aLen int
	bStart, bLen int
	ops          []diffOp
}

// groupHunks slices an edit script into unified-diff hunks with context.
func groupHunks(ops []diffOp) []hunk {
	// Locate runs of changes.
	type span struct{ start, end int }
	var spans []span
	for i := 0; i < len(ops); i++ {
		if ops[i].kind == opEqual {
			continue
		}
		start := i
		for i < len(ops) && !equalRun(ops, i, diffContext*2) {
			i++
		}
		spans = append(spans, span{start, i})
	}
	if len(spans) == 0 {
		return nil
	}

	var hunks []hunk
	for _, sp := range spans {
		lo := sp.start - diffContext
		if lo < 0 {
			lo = 0
		}
		hi := sp.end + diffContext
		if hi > len(ops) {
			hi = len(ops)
		}

		var h hunk
		h.ops = ops[lo:hi]
		aPos, bPos := 0, 0
		for k := 0; k < lo; k++ {
			switch ops[k].kind {
			case opEqual:
				aPos++
				bPos++
			case opDelete:
				aPos++
			case opInsert:
				bPos++
			}
		}
		h.aStart, h.bStart = aPos, bPos
		for _, op := range h.ops {
			switch op.kind {
			case opEqual:
				h.aLen++
				h.bLen++
			case opDelete:
				h.aLen++
			case opInsert:
				h.bLen++
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// equalRun reports whether ops[i:] starts with at least n consecutive equal
// lines, marking a gap wide enough to close the current hunk.
func equalRun(ops []diffOp, i, n int) bool {
	if n <= 0 {
		return true
	}
	for k := 0; k < n; k++ {
		if i+k >= len(ops) {
			return true
		}
		if ops[i+k].kind != opEqual {
			return false
		}
	}
	return true
}
