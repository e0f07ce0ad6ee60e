package golden

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/screen"
)

func testSnapshot(text string) *screen.Snapshot {
	return &screen.Snapshot{
		Rows:   24,
		Cols:   80,
		Cursor: screen.Position{Row: 5, Col: 18},
		Text:   text,
		Fields: []screen.Field{{Row: 5, Col: 18, Length: 8}},
		Digest: fingerprint.Digest(text),
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())
	snap := testSnapshot("  TSO/E LOGON\n  Userid ===>\n")

	path, err := store.Save("logon", snap)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(path, "logon.json") {
		t.Errorf("unexpected metadata path: %s", path)
	}

	g, err := store.Load("logon")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Text != snap.Text {
		t.Errorf("text mismatch: %q", g.Text)
	}
	if g.Meta.Digest != snap.Digest {
		t.Errorf("digest mismatch: %q", g.Meta.Digest)
	}
	if g.Meta.Rows != 24 || g.Meta.Cols != 80 || g.Meta.FieldCount != 1 {
		t.Errorf("metadata mismatch: %+v", g.Meta)
	}
	if g.Meta.Cursor != [2]int{5, 18} {
		t.Errorf("cursor mismatch: %v", g.Meta.Cursor)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Save("ready", testSnapshot("old\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save("ready", testSnapshot("new\n")); err != nil {
		t.Fatal(err)
	}

	g, err := store.Load("ready")
	if err != nil {
		t.Fatal(err)
	}
	if g.Text != "new\n" {
		t.Errorf("overwrite failed, got %q", g.Text)
	}
}

func TestLoadNotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load("absent"); !errors.Is(err, ErrGoldenNotFound) {
		t.Errorf("expected ErrGoldenNotFound, got %v", err)
	}
}

func TestAssertMissingGolden(t *testing.T) {
	store := NewStore(t.TempDir())
	ok, msg := store.Assert("ready", testSnapshot("  READY\n"))
	if ok {
		t.Fatal("assert against a missing golden must fail")
	}
	if msg != "Golden 'ready' not found" {
		t.Errorf("message = %q", msg)
	}
}

func TestAssertMatch(t *testing.T) {
	store := NewStore(t.TempDir())
	snap := testSnapshot("  READY\n")
	if _, err := store.Save("ready", snap); err != nil {
		t.Fatal(err)
	}

	// Trailing padding differs but the normalized digest is the same screen.
	ok, msg := store.Assert("ready", testSnapshot("  READY   \n\n"))
	if !ok {
		t.Fatalf("expected match, got: %s", msg)
	}
	if msg != "Digests match" {
		t.Errorf("message = %q", msg)
	}
}

func TestAssertMismatchProducesDiff(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Save("ready", testSnapshot("  READY\n")); err != nil {
		t.Fatal(err)
	}

	ok, msg := store.Assert("ready", testSnapshot("  IKJ56644I ABEND\n"))
	if ok {
		t.Fatal("expected mismatch")
	}
	if !strings.Contains(msg, "--- golden/ready") || !strings.Contains(msg, "+++ current") {
		t.Errorf("diff header missing:\n%s", msg)
	}
	if !strings.Contains(msg, "-  READY") || !strings.Contains(msg, "+  IKJ56644I ABEND") {
		t.Errorf("diff body missing:\n%s", msg)
	}
}

func TestListAndDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"logon", "ready"} {
		if _, err := store.Save(name, testSnapshot(name)); err != nil {
			t.Fatal(err)
		}
	}

	metas, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 goldens, got %d", len(metas))
	}

	if err := store.Delete("logon"); err != nil {
		t.Fatal(err)
	}
	if store.Exists("logon") {
		t.Error("logon should be gone")
	}
	if err := store.Delete("logon"); !errors.Is(err, ErrGoldenNotFound) {
		t.Errorf("double delete should report not found, got %v", err)
	}
}

func TestListEmptyDir(t *testing.T) {
	store := NewStore(t.TempDir() + "/never-created")
	metas, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 0 {
		t.Errorf("expected no goldens, got %d", len(metas))
	}
}

func TestPrune(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Save("old", testSnapshot("old")); err != nil {
		t.Fatal(err)
	}

	// Nothing is older than an hour yet.
	deleted, err := store.Prune(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("expected nothing pruned, got %d", deleted)
	}

	// Everything is older than a negative cutoff.
	deleted, err = store.Prune(-time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 pruned, got %d", deleted)
	}
}

func TestSanitizedNames(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Save("tso/ready screen", testSnapshot("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("tso/ready screen"); err != nil {
		t.Errorf("round trip through sanitized name failed: %v", err)
	}
}

func TestResolveDir(t *testing.T) {
	if got := ResolveDir([]string{"TSOFLOW_GOLDEN_DIR=/tmp/g"}); got != "/tmp/g" {
		t.Errorf("env override ignored, got %q", got)
	}
	if got := ResolveDir(nil); got != DefaultDir() {
		t.Errorf("default dir expected, got %q", got)
	}
}
