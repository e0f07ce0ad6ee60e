// Package session defines the contract the automation core requires from a
// terminal-protocol driver, and provides the s3270 subprocess implementation.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/screen"
)

// ErrNotLoopback is returned by Connect for any host that does not resolve
// to the local machine. Driver implementations must reject non-loopback
// addresses; the session owns real credentials and never leaves the box.
var ErrNotLoopback = errors.New("only loopback connections allowed")

// ErrNotConnected is returned by operations that need a live host connection.
var ErrNotConnected = errors.New("not connected")

// Raw is one raw capture from the terminal: the rendered text plus the
// attribute buffer dump the field extractor consumes.
type Raw struct {
	Rows        int
	Cols        int
	Cursor      screen.Position
	Ascii       string
	BufferLines []string
}

// Driver is the terminal-protocol contract consumed by the flow engine.
// A driver instance is exclusively owned by one flow run at a time;
// serializing access across runs is the caller's responsibility.
type Driver interface {
	// Connect opens the session. The host must be loopback.
	Connect(ctx context.Context, host string) error
	Disconnect() error

	// SnapshotRaw captures the current frame without interpreting it.
	SnapshotRaw(ctx context.Context) (Raw, error)

	// MoveAndType moves the cursor to a 1-based position, types text, and
	// optionally submits with Enter.
	MoveAndType(ctx context.Context, row, col int, text string, submit bool) error

	// PressKey sends a named AID key: Enter, Clear, PF1..PF24, PA1..PA3.
	PressKey(ctx context.Context, name string) error

	// Ready reports whether the host is connected and accepting input.
	Ready(ctx context.Context) (bool, error)
}

// Capture reads a fresh snapshot through the driver: raw capture, field
// extraction, digest. Pure assembly beyond the driver calls.
func Capture(ctx context.Context, d Driver) (*screen.Snapshot, error) {
	raw, err := d.SnapshotRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	return &screen.Snapshot{
		Rows:   raw.Rows,
		Cols:   raw.Cols,
		Cursor: raw.Cursor,
		Text:   raw.Ascii,
		Fields: screen.ParseBuffer(raw.BufferLines, raw.Rows, raw.Cols),
		Digest: fingerprint.Digest(raw.Ascii),
	}, nil
}

// NormalizeAID validates an AID key name and returns its canonical form.
func NormalizeAID(name string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch upper {
	case "ENTER":
		return "Enter", nil
	case "CLEAR":
		return "Clear", nil
	}
	if num, ok := strings.CutPrefix(upper, "PF"); ok {
		n, err := strconv.Atoi(num)
		if err == nil && n >= 1 && n <= 24 {
			return "PF" + num, nil
		}
	}
	if num, ok := strings.CutPrefix(upper, "PA"); ok {
		n, err := strconv.Atoi(num)
		if err == nil && n >= 1 && n <= 3 {
			return "PA" + num, nil
		}
	}
	return "", fmt.Errorf("unknown AID key: %s", name)
}

// CheckLoopback verifies that a host:port string points at the local machine.
func CheckLoopback(host string) error {
	h := host
	if hp, _, err := net.SplitHostPort(host); err == nil {
		h = hp
	}
	if strings.EqualFold(h, "localhost") {
		return nil
	}
	ip := net.ParseIP(h)
	if ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotLoopback, host)
}
