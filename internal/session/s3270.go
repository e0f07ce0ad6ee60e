package session

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"tsoflow/internal/screen"
)

const (
	defaultModel      = "3278-2"
	defaultCmdTimeout = 5 * time.Second
)

// S3270 drives a persistent s3270 subprocess over its line-oriented scripting
// protocol. One command is in flight at a time; responses are data lines
// followed by a status line and an "ok"/"error" terminator.
type S3270 struct {
	path      string
	model     string
	traceFile string
	logger    *slog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      *bufio.Writer
	lines      chan string
	connected  bool
	lastStatus Status
}

// S3270Option configures the subprocess driver.
type S3270Option func(*S3270)

// WithBinaryPath overrides the s3270 binary location (default: PATH lookup).
func WithBinaryPath(path string) S3270Option {
	return func(s *S3270) { s.path = path }
}

// WithModel sets the emulated terminal model (default 3278-2, 24x80).
func WithModel(model string) S3270Option {
	return func(s *S3270) { s.model = model }
}

// WithTraceFile enables s3270 protocol tracing to the given file.
func WithTraceFile(path string) S3270Option {
	return func(s *S3270) { s.traceFile = path }
}

// WithLogger sets the structured logger. Typed text is never logged.
func WithLogger(logger *slog.Logger) S3270Option {
	return func(s *S3270) { s.logger = logger }
}

// NewS3270 creates a driver; the subprocess starts on first Connect.
func NewS3270(opts ...S3270Option) *S3270 {
	s := &S3270{
		path:   "s3270",
		model:  defaultModel,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// start launches the subprocess and the reader goroutine. Caller holds mu.
func (s *S3270) start() error {
	if s.cmd != nil && s.cmd.ProcessState == nil {
		return nil
	}

	args := []string{"-script", "-model", s.model}
	if s.traceFile != "" {
		args = append(args, "-trace", "-tracefile", s.traceFile)
	}
	cmd := exec.Command(s.path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("s3270 stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("s3270 stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start s3270: %w", err)
	}

	lines := make(chan string, 256)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- strings.TrimRight(scanner.Text(), "\r")
		}
		close(lines)
	}()

	s.cmd = cmd
	s.stdin = bufio.NewWriter(stdin)
	s.lines = lines
	s.logger.Debug("s3270 started", "model", s.model)
	return nil
}

// send issues one command and collects its response lines (without the
// trailing status and ok/error lines). Caller holds mu.
func (s *S3270) send(ctx context.Context, command string) ([]string, error) {
	if s.cmd == nil || s.cmd.ProcessState != nil {
		return nil, fmt.Errorf("s3270 process not running")
	}

	s.logger.Debug("s3270 command", "action", actionName(command))

	if _, err := s.stdin.WriteString(command + "\n"); err != nil {
		return nil, fmt.Errorf("write %s: %w", actionName(command), err)
	}
	if err := s.stdin.Flush(); err != nil {
		return nil, fmt.Errorf("flush %s: %w", actionName(command), err)
	}

	deadline := time.Now().Add(defaultCmdTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var response []string
	for {
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ctx.Done():
			timer.Stop()
			return response, ctx.Err()
		case <-timer.C:
			return response, fmt.Errorf("%s: response timeout", actionName(command))
		case line, ok := <-s.lines:
			timer.Stop()
			if !ok {
				return response, fmt.Errorf("s3270 exited")
			}
			switch {
			case line == "ok":
				return response, nil
			case line == "error":
				return response, fmt.Errorf("%s: host error", actionName(command))
			case looksLikeStatus(line):
				if st, err := ParseStatus(line); err == nil {
					s.lastStatus = st
				}
			default:
				response = append(response, line)
			}
		}
	}
}

// actionName strips arguments so command payloads never reach logs or errors.
func actionName(command string) string {
	if i := strings.IndexByte(command, '('); i > 0 {
		return command[:i]
	}
	return command
}

// Connect opens a session to a loopback TN3270 host.
func (s *S3270) Connect(ctx context.Context, host string) error {
	if err := CheckLoopback(host); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.start(); err != nil {
		return err
	}

	if _, err := s.send(ctx, fmt.Sprintf("Connect(%s)", host)); err != nil {
		return fmt.Errorf("connect %s: %w", host, err)
	}
	if !s.lastStatus.Connected() {
		return fmt.Errorf("connect %s: %w", host, ErrNotConnected)
	}
	s.connected = true

	// Let the host paint its first formatted screen.
	_, _ = s.send(ctx, "Wait(InputField)")
	s.logger.Info("connected", "host", host)
	return nil
}

// Disconnect drops the host connection and stops the subprocess.
func (s *S3270) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultCmdTimeout)
	defer cancel()

	if s.connected {
		_, _ = s.send(ctx, "Disconnect")
		s.connected = false
	}
	if s.cmd != nil && s.cmd.ProcessState == nil {
		_, _ = s.send(ctx, "Quit")
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(defaultCmdTimeout):
			_ = s.cmd.Process.Kill()
			<-done
		}
	}
	s.cmd = nil
	s.logger.Info("disconnected")
	return nil
}

// SnapshotRaw captures the rendered screen, cursor, dimensions, and the
// attribute buffer dump.
func (s *S3270) SnapshotRaw(ctx context.Context) (Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return Raw{}, ErrNotConnected
	}

	asciiLines, err := s.send(ctx, "Ascii")
	if err != nil {
		return Raw{}, fmt.Errorf("read screen: %w", err)
	}
	var grid []string
	for _, line := range asciiLines {
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			grid = append(grid, strings.TrimPrefix(data, " "))
		}
	}

	raw := Raw{
		Rows:  s.lastStatus.Rows,
		Cols:  s.lastStatus.Cols,
		Ascii: strings.Join(grid, "\n"),
		// Status cursor is 0-based; snapshots are 1-based.
		Cursor: cursorFromStatus(s.lastStatus),
	}
	if raw.Rows == 0 {
		raw.Rows, raw.Cols = 24, 80
	}

	bufLines, err := s.send(ctx, "ReadBuffer(Ascii)")
	if err != nil {
		return Raw{}, fmt.Errorf("read buffer: %w", err)
	}
	// Column arithmetic treats the first cell as the byte right after the
	// prefix, so drop the separator space s3270 emits after "data:".
	for _, line := range bufLines {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			raw.BufferLines = append(raw.BufferLines, "data:"+data)
		} else if strings.HasPrefix(line, "data:") {
			raw.BufferLines = append(raw.BufferLines, line)
		}
	}

	return raw, nil
}

// MoveAndType positions the cursor, types text, and optionally submits.
func (s *S3270) MoveAndType(ctx context.Context, row, col int, text string, submit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	if _, err := s.send(ctx, fmt.Sprintf("MoveCursor(%d,%d)", row-1, col-1)); err != nil {
		return fmt.Errorf("move cursor: %w", err)
	}
	if _, err := s.send(ctx, fmt.Sprintf("String(%s)", quoteString(text))); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	if submit {
		if _, err := s.send(ctx, "Enter"); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	}
	return nil
}

// PressKey sends a named AID key.
func (s *S3270) PressKey(ctx context.Context, name string) error {
	aid, err := NormalizeAID(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	var action string
	switch {
	case aid == "Enter" || aid == "Clear":
		action = aid
	case strings.HasPrefix(aid, "PF"):
		action = fmt.Sprintf("PF(%s)", aid[2:])
	case strings.HasPrefix(aid, "PA"):
		action = fmt.Sprintf("PA(%s)", aid[2:])
	}

	if _, err := s.send(ctx, action); err != nil {
		return fmt.Errorf("press %s: %w", aid, err)
	}
	return nil
}

// Ready reports whether the session is connected with an unlocked keyboard.
func (s *S3270) Ready(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, nil
	}
	if _, err := s.send(ctx, "Query(ConnectionState)"); err != nil {
		return false, err
	}
	return s.lastStatus.InputReady(), nil
}

func cursorFromStatus(st Status) screen.Position {
	return screen.Position{Row: st.CursorRow + 1, Col: st.CursorCol + 1}
}

// quoteString wraps text for the s3270 String() action, escaping backslashes
// and double quotes.
func quoteString(text string) string {
	return strconv.Quote(text)
}
