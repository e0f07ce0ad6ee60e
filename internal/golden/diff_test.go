package golden

import (
	"strings"
	"testing"
)

func TestDiffIdentical(t *testing.T) {
	if d := Diff("a", "b", "same\ntext", "same\ntext"); d != "" {
		t.Errorf("identical texts should produce no diff, got:\n%s", d)
	}
}

func TestDiffSingleChange(t *testing.T) {
	from := "line1\nline2\nline3"
	to := "line1\nCHANGED\nline3"

	d := Diff("golden/x", "current", from, to)
	want := []string{
		"--- golden/x",
		"+++ current",
		"@@ -1,3 +1,3 @@",
		" line1",
		"-line2",
		"+CHANGED",
		" line3",
	}
	if d != strings.Join(want, "\n") {
		t.Errorf("diff:\n%s", d)
	}
}

func TestDiffContextWindow(t *testing.T) {
	var a, b []string
	for i := 0; i < 20; i++ {
		a = append(a, "ctx")
		b = append(b, "ctx")
	}
	a[10] = "old"
	b[10] = "new"

	d := Diff("a", "b", strings.Join(a, "\n"), strings.Join(b, "\n"))
	if strings.Count(d, "ctx") != 6 {
		t.Errorf("expected 3 context lines each side, got:\n%s", d)
	}
	if !strings.Contains(d, "-old") || !strings.Contains(d, "+new") {
		t.Errorf("change missing:\n%s", d)
	}
}

func TestDiffInsertAndDelete(t *testing.T) {
	d := Diff("a", "b", "keep\ngone", "keep\nadded\nmore")
	if !strings.Contains(d, "-gone") {
		t.Errorf("deletion missing:\n%s", d)
	}
	if !strings.Contains(d, "+added") || !strings.Contains(d, "+more") {
		t.Errorf("insertions missing:\n%s", d)
	}
}

func TestDiffSeparateHunks(t *testing.T) {
	var a, b []string
	for i := 0; i < 30; i++ {
		a = append(a, "ctx")
		b = append(b, "ctx")
	}
	a[2], b[2] = "old-top", "new-top"
	a[25], b[25] = "old-bottom", "new-bottom"

	d := Diff("a", "b", strings.Join(a, "\n"), strings.Join(b, "\n"))
	if strings.Count(d, "@@ -") != 2 {
		t.Errorf("expected two hunks:\n%s", d)
	}
}
