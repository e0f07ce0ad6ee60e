// Package agentloop serializes externally submitted action requests onto a
// single session. Requests queue on a channel and a worker applies them one
// at a time, so a background submitter can never interleave actions with
// itself.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"tsoflow/internal/dispatch"
	"tsoflow/internal/flow"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("agent loop closed")

const queueDepth = 16

// Request is one externally submitted action.
type Request struct {
	ID     string          `json:"id"`
	Action dispatch.Action `json:"action"`
}

// Response reports the outcome of one request.
type Response struct {
	ID    string          `json:"id"`
	Step  flow.StepStatus `json:"step"`
	Error string          `json:"error,omitempty"`
}

type item struct {
	req  Request
	resp chan Response
}

// Loop owns the request queue and its worker goroutine.
type Loop struct {
	eng        *flow.Engine
	disp       *dispatch.Dispatcher
	resultsDir string
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	items  chan item
	done   chan struct{}
}

// New starts a loop over one engine. resultsDir, when non-empty, receives a
// JSON artifact per processed request.
func New(eng *flow.Engine, disp *dispatch.Dispatcher, resultsDir string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		eng:        eng,
		disp:       disp,
		resultsDir: resultsDir,
		logger:     logger,
		items:      make(chan item, queueDepth),
		done:       make(chan struct{}),
	}
	go l.run()
	return l
}

// Submit queues a request and blocks until its response. Requests are
// processed strictly one at a time in submission order.
func (l *Loop) Submit(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Response{}, ErrClosed
	}
	it := item{req: req, resp: make(chan Response, 1)}
	select {
	case l.items <- it:
		l.mu.Unlock()
	default:
		l.mu.Unlock()
		return Response{}, errors.New("agent loop queue full")
	}

	select {
	case resp := <-it.resp:
		return resp, nil
	case <-ctx.Done():
		// The worker still processes the request; only the wait is
		// abandoned.
		return Response{}, ctx.Err()
	}
}

// Close stops intake, waits for queued requests to drain, and stops the
// worker.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.items)
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for it := range l.items {
		resp := l.process(it.req)
		l.writeArtifact(resp)
		it.resp <- resp
	}
}

func (l *Loop) process(req Request) Response {
	l.logger.Info("agent request", "id", req.ID, "action", req.Action.Name)

	status, err := l.disp.Dispatch(context.Background(), l.eng, req.Action)
	resp := Response{ID: req.ID, Step: status}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// writeArtifact persists the response so external submitters can poll the
// filesystem for results, matching the request/response contract of a
// detached queue.
func (l *Loop) writeArtifact(resp Response) {
	if l.resultsDir == "" {
		return
	}
	if err := os.MkdirAll(l.resultsDir, 0o755); err != nil {
		l.logger.Error("results dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		l.logger.Error("marshal result", "id", resp.ID, "error", err)
		return
	}
	path := filepath.Join(l.resultsDir, fmt.Sprintf("%s.json", resp.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		l.logger.Error("write result", "path", path, "error", err)
	}
}
