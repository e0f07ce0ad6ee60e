package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/screen"
)

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("U F U C(127.0.0.1) I 2 24 80 6 15 0x0 0.013")
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if !st.Connected() {
		t.Error("should be connected")
	}
	if !st.InputReady() {
		t.Error("keyboard unlocked should be input-ready")
	}
	if st.Rows != 24 || st.Cols != 80 {
		t.Errorf("dims = %dx%d", st.Rows, st.Cols)
	}
	if st.CursorRow != 6 || st.CursorCol != 15 {
		t.Errorf("cursor = (%d,%d)", st.CursorRow, st.CursorCol)
	}
	if st.Model != "2" {
		t.Errorf("model = %q", st.Model)
	}
}

func TestParseStatusLockedDisconnected(t *testing.T) {
	st, err := ParseStatus("L U U N N 2 24 80 0 0 0x0 -")
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if st.Connected() {
		t.Error("N connection state should not be connected")
	}
	if st.InputReady() {
		t.Error("locked keyboard should not be input-ready")
	}
}

func TestParseStatusRejectsShortLines(t *testing.T) {
	for _, line := range []string{"", "ok", "data: READY", "U F U"} {
		if _, err := ParseStatus(line); err == nil {
			t.Errorf("ParseStatus(%q) should fail", line)
		}
	}
}

func TestLooksLikeStatus(t *testing.T) {
	if !looksLikeStatus("U F U C(127.0.0.1) I 2 24 80 6 15 0x0 0.013") {
		t.Error("status line not recognized")
	}
	for _, line := range []string{"data: U F U", "ok", "", "READY"} {
		if looksLikeStatus(line) {
			t.Errorf("%q should not look like a status line", line)
		}
	}
}

func TestNormalizeAID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Enter", "Enter", true},
		{"enter", "Enter", true},
		{"CLEAR", "Clear", true},
		{"PF3", "PF3", true},
		{"pf24", "PF24", true},
		{"PA1", "PA1", true},
		{"PF25", "", false},
		{"PA4", "", false},
		{"PF0", "", false},
		{"Tab", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeAID(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("NormalizeAID(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("NormalizeAID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheckLoopback(t *testing.T) {
	for _, host := range []string{"127.0.0.1:3270", "localhost:3270", "LOCALHOST:23", "127.0.0.1", "[::1]:3270"} {
		if err := CheckLoopback(host); err != nil {
			t.Errorf("CheckLoopback(%q) = %v, want nil", host, err)
		}
	}
	for _, host := range []string{"10.0.0.5:3270", "mainframe.example.com:3270", "192.168.1.9"} {
		if err := CheckLoopback(host); !errors.Is(err, ErrNotLoopback) {
			t.Errorf("CheckLoopback(%q) = %v, want ErrNotLoopback", host, err)
		}
	}
}

// rawDriver returns a canned Raw capture.
type rawDriver struct {
	raw Raw
	err error
}

func (d *rawDriver) Connect(ctx context.Context, host string) error { return nil }
func (d *rawDriver) Disconnect() error                              { return nil }
func (d *rawDriver) SnapshotRaw(ctx context.Context) (Raw, error)   { return d.raw, d.err }
func (d *rawDriver) MoveAndType(ctx context.Context, row, col int, text string, submit bool) error {
	return nil
}
func (d *rawDriver) PressKey(ctx context.Context, name string) error { return nil }
func (d *rawDriver) Ready(ctx context.Context) (bool, error)         { return true, nil }

func TestCapture(t *testing.T) {
	text := "  TSO/E LOGON\n  Userid ===>"
	d := &rawDriver{raw: Raw{
		Rows:   24,
		Cols:   80,
		Cursor: screen.Position{Row: 2, Col: 15},
		Ascii:  text,
		BufferLines: []string{
			"data:" + strings.Repeat(" ", 13) + "SF(c0=00)" + strings.Repeat(" ", 60),
		},
	}}

	snap, err := Capture(context.Background(), d)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Text != text {
		t.Errorf("text = %q", snap.Text)
	}
	if snap.Digest != fingerprint.Digest(text) {
		t.Errorf("digest = %q", snap.Digest)
	}
	if len(snap.Fields) != 1 || snap.Fields[0].Col != 14 {
		t.Errorf("fields = %+v", snap.Fields)
	}
	if snap.Cursor != (screen.Position{Row: 2, Col: 15}) {
		t.Errorf("cursor = %+v", snap.Cursor)
	}
}

func TestCapturePropagatesDriverError(t *testing.T) {
	d := &rawDriver{err: ErrNotConnected}
	if _, err := Capture(context.Background(), d); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestQuoteString(t *testing.T) {
	if got := quoteString(`he said "hi" \ bye`); got != `"he said \"hi\" \\ bye"` {
		t.Errorf("quoteString = %s", got)
	}
}
