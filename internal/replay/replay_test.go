package replay

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/golden"
	"tsoflow/internal/screen"
	"tsoflow/internal/transcript"
)

const (
	logonText = "  ------------------- TSO/E LOGON -------------------\n  Userid ===>"
	readyText = " READY"
)

func testStore(t *testing.T) *golden.Store {
	t.Helper()
	store := golden.NewStore(t.TempDir())
	for name, text := range map[string]string{"initial": logonText, "ready": readyText} {
		snap := &screen.Snapshot{Rows: 24, Cols: 80, Text: text, Digest: fingerprint.Digest(text)}
		if _, err := store.Save(name, snap); err != nil {
			t.Fatalf("save golden %s: %v", name, err)
		}
	}
	return store
}

func writeTranscript(t *testing.T, entries []transcript.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.jsonl")
	var b strings.Builder
	for _, e := range entries {
		if e.TS == "" {
			e.TS = "2026-08-30T12:00:00Z"
		}
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReplayCleanRun(t *testing.T) {
	store := testStore(t)
	logonDigest := fingerprint.ShortDigest(fingerprint.Digest(logonText))
	readyDigest := fingerprint.ShortDigest(fingerprint.Digest(readyText))

	path := writeTranscript(t, []transcript.Entry{
		{Tool: "press", Params: map[string]any{"aid": "Enter"}, DigestBefore: logonDigest, DigestAfter: readyDigest, Outcome: "success"},
		{Tool: "assert_screen", Params: map[string]any{"rule": "ascii_contains: READY"}, DigestBefore: readyDigest, DigestAfter: readyDigest, Outcome: "success"},
	})

	report, err := NewHarness(store, quietLogger()).Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("differences: %+v", report.Differences)
	}
	if report.Total != 2 || report.Matched != 2 {
		t.Errorf("total=%d matched=%d", report.Total, report.Matched)
	}
}

func TestReplayDetectsUnknownDigest(t *testing.T) {
	store := testStore(t)
	logonDigest := fingerprint.ShortDigest(fingerprint.Digest(logonText))

	path := writeTranscript(t, []transcript.Entry{
		{Tool: "press", Params: map[string]any{"aid": "Enter"}, DigestBefore: logonDigest, DigestAfter: "feedfacecafebeef", Outcome: "success"},
	})

	report, err := NewHarness(store, quietLogger()).Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Clean() {
		t.Fatal("unknown digest_after not reported")
	}
	if report.Differences[0].Kind != DiffDigestAfter {
		t.Errorf("kind = %q", report.Differences[0].Kind)
	}
}

func TestReplayDetectsOutcomeDrift(t *testing.T) {
	store := testStore(t)
	logonDigest := fingerprint.ShortDigest(fingerprint.Digest(logonText))

	// The recording claims READY was asserted on the logon screen.
	path := writeTranscript(t, []transcript.Entry{
		{Tool: "assert_screen", Params: map[string]any{"rule": "ascii_contains: READY"}, DigestBefore: logonDigest, DigestAfter: logonDigest, Outcome: "success"},
	})

	report, err := NewHarness(store, quietLogger()).Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	var sawOutcome bool
	for _, d := range report.Differences {
		if d.Kind == DiffOutcome && d.Actual == "failure" {
			sawOutcome = true
		}
	}
	if !sawOutcome {
		t.Errorf("outcome drift not reported: %+v", report.Differences)
	}
}

func TestReplayTrustsOpaqueSteps(t *testing.T) {
	store := testStore(t)
	readyDigest := fingerprint.ShortDigest(fingerprint.Digest(readyText))

	path := writeTranscript(t, []transcript.Entry{
		{Tool: "wait_ready", DigestBefore: readyDigest, DigestAfter: readyDigest, Outcome: "success"},
		{Tool: "sleep_ms", DigestBefore: readyDigest, DigestAfter: readyDigest, Outcome: "failure"},
	})

	report, err := NewHarness(store, quietLogger()).Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !report.Clean() {
		t.Errorf("opaque steps should replay as recorded: %+v", report.Differences)
	}
}

func TestMockDriverConnectShowsInitial(t *testing.T) {
	store := testStore(t)
	d, err := NewMockDriver(store)
	if err != nil {
		t.Fatalf("NewMockDriver: %v", err)
	}
	if err := d.Connect(context.Background(), "127.0.0.1:3270"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	raw, err := d.SnapshotRaw(context.Background())
	if err != nil {
		t.Fatalf("SnapshotRaw: %v", err)
	}
	if raw.Ascii != logonText {
		t.Errorf("ascii = %q", raw.Ascii)
	}
	if raw.Rows != 24 || raw.Cols != 80 {
		t.Errorf("dims = %dx%d", raw.Rows, raw.Cols)
	}
}

func TestMockDriverRejectsBadKey(t *testing.T) {
	store := testStore(t)
	d, err := NewMockDriver(store)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.PressKey(context.Background(), "PF99"); err == nil {
		t.Error("expected error for invalid AID")
	}
}

func TestReportFormats(t *testing.T) {
	r := &Report{
		Transcript: "run.jsonl",
		Total:      3,
		Matched:    2,
		Differences: []Difference{
			{Step: 1, Tool: "press", Kind: DiffOutcome, Expected: "success", Actual: "failure"},
		},
	}

	cli := r.FormatCLI()
	if !strings.Contains(cli, "steps: 3  matched: 2  differences: 1") {
		t.Errorf("cli = %q", cli)
	}
	if !strings.Contains(cli, "step 1 press [outcome]") {
		t.Errorf("cli = %q", cli)
	}

	out, err := r.FormatJSON()
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	var back Report
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Total != 3 || len(back.Differences) != 1 {
		t.Errorf("round trip = %+v", back)
	}
}
