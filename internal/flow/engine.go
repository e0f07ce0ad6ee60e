package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/golden"
	"tsoflow/internal/screen"
	"tsoflow/internal/session"
	"tsoflow/internal/transcript"
)

// Flow run states.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

const (
	defaultTimeout = 5000 * time.Millisecond
	defaultPoll    = 100 * time.Millisecond
)

// Options tunes one engine instance.
type Options struct {
	// FlowsDir is where imports are resolved.
	FlowsDir string
	// LogsDir receives failure screen dumps.
	LogsDir string
	// SaveGoldens makes snapshot steps record goldens instead of only
	// capturing.
	SaveGoldens bool
	// AssertGoldens makes snapshot steps check against the golden of the
	// same name, turning a recorded flow into a regression run.
	AssertGoldens bool
	// Poll overrides the wait_ready/wait_change poll interval.
	Poll time.Duration
	// Timeout overrides the default per-step wait timeout.
	Timeout time.Duration
}

// Config wires an engine's collaborators.
type Config struct {
	Driver  session.Driver
	Goldens *golden.Store
	Log     *transcript.Log
	Env     map[string]string
	Logger  *slog.Logger
	Options Options
}

// Engine executes flows. One engine drives one session; it is not safe for
// concurrent Run calls.
type Engine struct {
	driver  session.Driver
	goldens *golden.Store
	log     *transcript.Log
	env     map[string]string
	logger  *slog.Logger
	opts    Options

	flowName   string
	lastDigest string
	secrets    []string
	failPath   string
}

// StepStatus is one executed step in a run result.
type StepStatus struct {
	Kind      string `json:"kind"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	Recovery  bool   `json:"recovery,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Result summarizes one flow run.
type Result struct {
	RunID       string       `json:"run_id"`
	Flow        string       `json:"flow"`
	State       string       `json:"state"`
	Steps       []StepStatus `json:"steps"`
	FailurePath string       `json:"failure_path,omitempty"`
}

// New builds an engine from its config, filling defaults.
func New(cfg Config) *Engine {
	opts := cfg.Options
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		driver:  cfg.Driver,
		goldens: cfg.Goldens,
		log:     cfg.Log,
		env:     cfg.Env,
		logger:  logger,
		opts:    opts,
	}
}

// Run executes a flow to completion. Step failures are reported through the
// result state, never as a Go error; the returned error covers only setup
// problems before any step ran.
func (e *Engine) Run(ctx context.Context, f *Flow) (*Result, error) {
	if e.driver == nil {
		return nil, errors.New("engine has no driver")
	}

	res := &Result{RunID: uuid.NewString(), Flow: f.Name}
	e.flowName = f.Name
	e.secrets = nil
	e.failPath = ""

	e.logger.Info("flow start", "flow", f.Name, "run_id", res.RunID)

	if e.runFlow(ctx, f, res, map[string]bool{f.Name: true}) {
		res.State = StateCompleted
	} else {
		res.State = StateFailed
		res.FailurePath = e.failPath
	}

	e.logger.Info("flow done", "flow", f.Name, "run_id", res.RunID, "state", res.State)
	return res, nil
}

// Do executes a single step outside any flow. The step is transcripted and
// logged exactly as a flow step would be; recovery does not apply.
func (e *Engine) Do(ctx context.Context, step Step) StepStatus {
	var res Result
	e.runStep(ctx, step, &res, false)
	return res.Steps[len(res.Steps)-1]
}

// runFlow executes imports depth-first, then the flow's own steps with its
// recovery rules. A failed import aborts immediately; the importing flow's
// recovery rules are never consulted for it.
func (e *Engine) runFlow(ctx context.Context, f *Flow, res *Result, seen map[string]bool) bool {
	for _, ref := range f.Imports {
		path, err := Resolve(e.opts.FlowsDir, ref)
		if err != nil {
			e.recordSetupFailure(res, f.Name, fmt.Sprintf("import %s: %v", ref, err))
			return false
		}
		sub, err := Load(path)
		if err != nil {
			e.recordSetupFailure(res, f.Name, fmt.Sprintf("import %s: %v", ref, err))
			return false
		}
		if seen[sub.Name] {
			e.recordSetupFailure(res, f.Name, fmt.Sprintf("import cycle at %s", sub.Name))
			return false
		}
		seen[sub.Name] = true
		e.logger.Info("import", "flow", f.Name, "sub", sub.Name)
		if !e.runFlow(ctx, sub, res, seen) {
			return false
		}
	}

	for _, step := range f.Steps {
		ok, recoverable := e.runStep(ctx, step, res, false)
		if ok {
			continue
		}
		if !recoverable {
			return false
		}
		if !e.runRecovery(ctx, f, res) {
			return false
		}
		// Recovery cleared the unexpected state; the flow advances past
		// the failed step rather than retrying it.
	}
	return true
}

// runRecovery evaluates the flow's recovery rules against a fresh snapshot
// and executes the first matching rule's steps.
func (e *Engine) runRecovery(ctx context.Context, f *Flow, res *Result) bool {
	if len(f.Recovery) == 0 {
		return false
	}

	snap, err := e.capture(ctx)
	if err != nil {
		e.logger.Error("recovery snapshot failed", "flow", f.Name, "error", err)
		return false
	}

	for i, rule := range f.Recovery {
		if !matchesTrigger(snap, rule) {
			continue
		}
		e.logger.Info("recovery triggered", "flow", f.Name, "rule", i)
		for _, step := range rule.Do {
			if ok, _ := e.runStep(ctx, step, res, true); !ok {
				return false
			}
		}
		return true
	}

	e.logger.Warn("no recovery rule matched", "flow", f.Name)
	return false
}

func matchesTrigger(snap *screen.Snapshot, rule RecoveryRule) bool {
	if rule.WhenAsciiContains != "" {
		ok, _ := fingerprint.Eval(snap, fingerprint.Rule{AsciiContains: rule.WhenAsciiContains})
		if ok {
			return true
		}
	}
	if rule.Trigger != nil {
		ok, _ := fingerprint.Eval(snap, *rule.Trigger)
		return ok
	}
	return false
}

// runStep executes one step, appends its transcript entry, and records its
// status. The second return reports whether a failure may go through
// recovery; golden mismatches are regression signals and never do.
func (e *Engine) runStep(ctx context.Context, step Step, res *Result, recovery bool) (ok, recoverable bool) {
	start := time.Now()
	digestBefore := fingerprint.ShortDigest(e.lastDigest)

	detail, err := e.executeStep(ctx, step)

	// Actions that change the screen without snapshotting still get a
	// current digest_after in the transcript.
	switch step.Kind {
	case KindPress, KindFillAt, KindFillByLabel:
		if _, cerr := e.capture(ctx); cerr != nil {
			e.logger.Debug("post-step capture failed", "kind", step.Kind, "error", cerr)
		}
	}

	latency := time.Since(start).Milliseconds()
	outcome := "success"
	notes := detail
	if err != nil {
		outcome = "failure"
		notes = err.Error()
	}

	if e.log != nil {
		if lerr := e.log.Append(transcript.Entry{
			Tool:         step.Kind,
			Params:       e.stepParams(step, recovery),
			DigestBefore: digestBefore,
			DigestAfter:  fingerprint.ShortDigest(e.lastDigest),
			LatencyMS:    latency,
			Outcome:      outcome,
			Notes:        notes,
		}); lerr != nil {
			e.logger.Error("transcript append failed", "error", lerr)
		}
	}

	res.Steps = append(res.Steps, StepStatus{
		Kind:      step.Kind,
		Outcome:   outcome,
		Detail:    notes,
		Recovery:  recovery,
		LatencyMS: latency,
	})

	if err != nil {
		e.logger.Warn("step failed", "kind", step.Kind, "error", err, "recovery", recovery)
		goldenCheck := step.Kind == KindGoldenAssert ||
			(step.Kind == KindSnapshot && e.opts.AssertGoldens && step.Name != "")
		return false, !goldenCheck
	}
	e.logger.Debug("step ok", "kind", step.Kind, "detail", detail, "latency_ms", latency)
	return true, true
}

func (e *Engine) executeStep(ctx context.Context, step Step) (string, error) {
	switch step.Kind {
	case KindWaitReady:
		return e.waitReady(ctx, step)
	case KindWaitChange:
		return e.waitChange(ctx, step)
	case KindPress:
		aid := step.AID
		if aid == "" {
			aid = "Enter"
		}
		if err := e.driver.PressKey(ctx, aid); err != nil {
			return "", fmt.Errorf("press %s: %w", aid, err)
		}
		return aid, nil
	case KindFillAt:
		return e.fillAt(ctx, step)
	case KindFillByLabel:
		return e.fillByLabel(ctx, step)
	case KindAssertScreen:
		return e.assertScreen(ctx, step, false)
	case KindAssertNotScreen:
		return e.assertScreen(ctx, step, true)
	case KindSnapshot:
		return e.snapshotStep(ctx, step)
	case KindGoldenSave:
		return e.goldenSave(ctx, step)
	case KindGoldenAssert:
		return e.goldenAssert(ctx, step)
	case KindSleepMS:
		return e.sleep(ctx, step)
	default:
		e.logger.Warn("unknown step kind, skipping", "kind", step.Kind)
		return "skipped unknown kind", nil
	}
}

func (e *Engine) waitReady(ctx context.Context, step Step) (string, error) {
	timeout := e.stepTimeout(step.TimeoutMS)
	deadline := time.Now().Add(timeout)
	for {
		ready, err := e.driver.Ready(ctx)
		if err == nil && ready {
			return "ready", nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return "", fmt.Errorf("wait_ready: %w", err)
			}
			return "", fmt.Errorf("wait_ready: not ready after %v", timeout)
		}
		if err := e.pollWait(ctx); err != nil {
			return "", err
		}
	}
}

func (e *Engine) waitChange(ctx context.Context, step Step) (string, error) {
	before, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("wait_change: %w", err)
	}

	timeout := e.stepTimeout(step.TimeoutMS)
	deadline := time.Now().Add(timeout)
	for {
		snap, err := e.capture(ctx)
		if err == nil && snap.Digest != before.Digest {
			return "screen changed", nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("wait_change: screen unchanged after %v", timeout)
		}
		if err := e.pollWait(ctx); err != nil {
			return "", err
		}
	}
}

func (e *Engine) fillAt(ctx context.Context, step Step) (string, error) {
	if step.Row < 1 || step.Col < 1 {
		return "", errors.New("fill_at: row and col are required")
	}
	value, err := e.resolveValue(step)
	if err != nil {
		return "", err
	}
	if err := e.driver.MoveAndType(ctx, step.Row, step.Col, value, false); err != nil {
		return "", fmt.Errorf("fill_at: %w", err)
	}
	return fmt.Sprintf("typed at (%d,%d)", step.Row, step.Col), nil
}

func (e *Engine) fillByLabel(ctx context.Context, step Step) (string, error) {
	if step.Label == "" {
		return "", errors.New("fill_by_label: label is required")
	}
	value, err := e.resolveValue(step)
	if err != nil {
		return "", err
	}

	snap, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("fill_by_label: %w", err)
	}
	offset := step.Offset
	if offset == 0 {
		offset = 1
	}
	pos, found := screen.LocateLabel(snap.Text, step.Label, offset, snap.Cols)
	if !found {
		return "", fmt.Errorf("fill_by_label: label %q not found on screen", step.Label)
	}
	if err := e.driver.MoveAndType(ctx, pos.Row, pos.Col, value, false); err != nil {
		return "", fmt.Errorf("fill_by_label: %w", err)
	}
	return fmt.Sprintf("typed after %q at (%d,%d)", step.Label, pos.Row, pos.Col), nil
}

func (e *Engine) assertScreen(ctx context.Context, step Step, negate bool) (string, error) {
	kind := KindAssertScreen
	if negate {
		kind = KindAssertNotScreen
	}
	if step.Rule == nil {
		return "", fmt.Errorf("%s: rule is required", kind)
	}

	snap, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}

	matched, desc := fingerprint.Eval(snap, *step.Rule)
	if matched != negate {
		if negate {
			return "screen does not match", nil
		}
		return desc, nil
	}

	e.persistFailureScreen(snap)
	if negate {
		return "", fmt.Errorf("%s: screen unexpectedly matched: %s", kind, desc)
	}
	return "", fmt.Errorf("%s: screen did not match rule", kind)
}

func (e *Engine) snapshotStep(ctx context.Context, step Step) (string, error) {
	snap, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if e.opts.SaveGoldens && step.Name != "" {
		if e.goldens == nil {
			return "", errors.New("snapshot: no golden store configured")
		}
		if _, err := e.goldens.Save(step.Name, snap); err != nil {
			return "", fmt.Errorf("snapshot: %w", err)
		}
		return fmt.Sprintf("saved golden %q", step.Name), nil
	}
	if e.opts.AssertGoldens && step.Name != "" {
		if e.goldens == nil {
			return "", errors.New("snapshot: no golden store configured")
		}
		ok, diag := e.goldens.Assert(step.Name, snap)
		if !ok {
			e.persistFailureScreen(snap)
			return "", fmt.Errorf("snapshot %q: %s", step.Name, diag)
		}
		return diag, nil
	}
	return "digest " + fingerprint.ShortDigest(snap.Digest), nil
}

func (e *Engine) goldenSave(ctx context.Context, step Step) (string, error) {
	if step.Name == "" {
		return "", errors.New("golden:save: name is required")
	}
	if e.goldens == nil {
		return "", errors.New("golden:save: no golden store configured")
	}
	snap, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("golden:save: %w", err)
	}
	if _, err := e.goldens.Save(step.Name, snap); err != nil {
		return "", fmt.Errorf("golden:save: %w", err)
	}
	return fmt.Sprintf("saved golden %q", step.Name), nil
}

func (e *Engine) goldenAssert(ctx context.Context, step Step) (string, error) {
	if step.Name == "" {
		return "", errors.New("golden:assert: name is required")
	}
	if e.goldens == nil {
		return "", errors.New("golden:assert: no golden store configured")
	}
	snap, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("golden:assert: %w", err)
	}
	ok, diag := e.goldens.Assert(step.Name, snap)
	if !ok {
		e.persistFailureScreen(snap)
		return "", fmt.Errorf("golden:assert %q: %s", step.Name, diag)
	}
	return diag, nil
}

func (e *Engine) sleep(ctx context.Context, step Step) (string, error) {
	if step.MS <= 0 {
		return "", errors.New("sleep_ms: positive duration required")
	}
	select {
	case <-time.After(time.Duration(step.MS) * time.Millisecond):
		return fmt.Sprintf("slept %dms", step.MS), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolveValue picks the literal value or the named environment variable.
// Secret values are remembered so later failure screens can be scrubbed.
func (e *Engine) resolveValue(step Step) (string, error) {
	value := step.Value
	if step.ValueEnv != "" {
		v, ok := e.env[step.ValueEnv]
		if !ok {
			return "", fmt.Errorf("%s: environment variable %s not set", step.Kind, step.ValueEnv)
		}
		value = v
	}
	if step.Secret && value != "" {
		e.secrets = append(e.secrets, value)
	}
	return value, nil
}

func (e *Engine) capture(ctx context.Context) (*screen.Snapshot, error) {
	snap, err := session.Capture(ctx, e.driver)
	if err != nil {
		return nil, err
	}
	e.lastDigest = snap.Digest
	return snap, nil
}

func (e *Engine) persistFailureScreen(snap *screen.Snapshot) {
	if e.opts.LogsDir == "" {
		return
	}
	path, err := transcript.WriteFailureScreen(e.opts.LogsDir, e.flowName, snap.Text, e.secrets)
	if err != nil {
		e.logger.Error("failure screen not persisted", "error", err)
		return
	}
	e.failPath = path
	e.logger.Info("failure screen persisted", "path", path)
}

func (e *Engine) recordSetupFailure(res *Result, flowName, detail string) {
	e.logger.Error("flow aborted", "flow", flowName, "reason", detail)
	res.Steps = append(res.Steps, StepStatus{Kind: "import", Outcome: "failure", Detail: detail})
	if e.log != nil {
		_ = e.log.Append(transcript.Entry{Tool: "import", Outcome: "failure", Notes: detail})
	}
}

func (e *Engine) stepTimeout(ms int) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return e.opts.Timeout
}

func (e *Engine) pollWait(ctx context.Context) error {
	select {
	case <-time.After(e.opts.Poll):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stepParams builds the transcript parameter map for one step. The typed
// value never appears for secret steps; the append path redacts again by
// keyword as a second layer.
func (e *Engine) stepParams(step Step, recovery bool) map[string]any {
	p := map[string]any{}
	switch step.Kind {
	case KindWaitReady, KindWaitChange:
		p["timeout_ms"] = step.TimeoutMS
	case KindPress:
		p["aid"] = step.AID
	case KindFillAt:
		p["row"], p["col"] = step.Row, step.Col
		p["value"] = e.paramValue(step)
	case KindFillByLabel:
		p["label"], p["offset"] = step.Label, step.Offset
		p["value"] = e.paramValue(step)
	case KindAssertScreen, KindAssertNotScreen:
		if step.Rule != nil {
			p["rule"] = step.Rule.Describe()
		}
	case KindSnapshot, KindGoldenSave, KindGoldenAssert:
		p["name"] = step.Name
	case KindSleepMS:
		p["ms"] = step.MS
	}
	if recovery {
		p["recovery"] = true
	}
	return p
}

func (e *Engine) paramValue(step Step) string {
	if step.Secret {
		return transcript.Redacted
	}
	if step.ValueEnv != "" {
		return "$" + step.ValueEnv
	}
	return step.Value
}
