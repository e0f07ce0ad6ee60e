// Package transcript records every action a flow run performs as an
// append-only JSONL audit trail, with credential values redacted before
// anything touches disk.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one audited action. Digests are truncated screen fingerprints
// taken before and after the action, so a replay can line entries up
// against golden screens without storing screen text in the log.
type Entry struct {
	TS           string         `json:"ts"`
	Tool         string         `json:"tool"`
	Params       map[string]any `json:"params_redacted"`
	DigestBefore string         `json:"digest_before,omitempty"`
	DigestAfter  string         `json:"digest_after,omitempty"`
	LatencyMS    int64          `json:"latency_ms"`
	Outcome      string         `json:"outcome"`
	Notes        string         `json:"notes,omitempty"`
}

// defaultMaxSize caps a transcript file at 100 MB before rotation.
const defaultMaxSize = 100 << 20

// Log writes entries to a per-run JSONL file. Each entry is flushed as it
// is appended; a crashed run keeps everything recorded up to the crash.
// When the file crosses its size cap it is renamed to a numbered sibling
// and writing continues in a fresh file at the same path.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Option configures a Log at Open time.
type Option func(*Log)

// WithMaxSize overrides the rotation threshold, in bytes. Zero or negative
// disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(l *Log) { l.maxSize = bytes }
}

// DefaultDir returns the default transcript directory, ~/.tsoflow/logs.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tsoflow", "logs")
	}
	return filepath.Join(home, ".tsoflow", "logs")
}

// ResolveDir returns the transcript directory, honoring the
// TSOFLOW_LOGS_DIR environment override.
func ResolveDir() string {
	if dir := os.Getenv("TSOFLOW_LOGS_DIR"); dir != "" {
		return dir
	}
	return DefaultDir()
}

// Open creates a transcript log for one run. The file name embeds the flow
// name and a UTC timestamp, so successive runs never collide.
func Open(dir, flowName string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.jsonl", sanitize(flowName), time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	l := &Log{file: f, path: path, maxSize: defaultMaxSize}
	if info, err := f.Stat(); err == nil {
		l.size = info.Size()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the transcript file path.
func (l *Log) Path() string {
	return l.path
}

// Append redacts the entry's params, stamps it if unstamped, and writes it
// as one JSON line.
func (l *Log) Append(e Entry) error {
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	e.Params = Redact(e.Params)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.maxSize > 0 && l.size > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate transcript: %w", err)
		}
	}
	n, err := l.file.Write(append(data, '\n'))
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return l.file.Sync()
}

// rotate renames the current file to the first free numbered sibling
// (name_01.jsonl .. name_99.jsonl) and reopens a fresh file at the original
// path. Caller holds the lock.
func (l *Log) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	stem := strings.TrimSuffix(l.path, ".jsonl")
	for i := 1; i < 100; i++ {
		rotated := fmt.Sprintf("%s_%02d.jsonl", stem, i)
		if _, err := os.Stat(rotated); err == nil {
			continue
		}
		if err := os.Rename(l.path, rotated); err != nil {
			return err
		}
		break
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.size = 0
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Read loads every entry from a transcript file, in order.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var entries []Entry
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("transcript line %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteFailureScreen persists the screen text captured at the moment a step
// failed, with any known secrets scrubbed. Returns the file path.
func WriteFailureScreen(dir, flowName, text string, secrets []string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create failure dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_fail.txt", sanitize(flowName), time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)

	framed := "==== SCREEN AT FAILURE ====\n" + RedactText(text, secrets) + "\n==== END SCREEN ====\n"
	if err := os.WriteFile(path, []byte(framed), 0o644); err != nil {
		return "", fmt.Errorf("write failure screen: %w", err)
	}
	return path, nil
}

// sanitize makes a flow name safe to use as a file name component.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "flow"
	}
	return b.String()
}
