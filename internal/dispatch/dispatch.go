package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/flow"
	"tsoflow/internal/session"
)

// ErrUnknownAction is returned for an action name outside the step set.
var ErrUnknownAction = errors.New("unknown action")

// ToStep validates an action against the closed step set and converts it.
// Unlike flow declarations, where unknown kinds are tolerated, a proposed
// action with an unknown name is an error: there is no forward-compatibility
// story for a model inventing tools.
func ToStep(act Action) (flow.Step, error) {
	step := flow.Step{Kind: act.Name}
	p := act.Params

	switch act.Name {
	case flow.KindWaitReady, flow.KindWaitChange:
		step.TimeoutMS = intParam(p, "timeout_ms")

	case flow.KindPress:
		aid := strParam(p, "aid")
		if aid == "" {
			aid = "Enter"
		}
		if _, err := session.NormalizeAID(aid); err != nil {
			return flow.Step{}, fmt.Errorf("press: %w", err)
		}
		step.AID = aid

	case flow.KindFillAt:
		step.Row = intParam(p, "row")
		step.Col = intParam(p, "col")
		if step.Row < 1 || step.Col < 1 {
			return flow.Step{}, errors.New("fill_at: row and col are required")
		}
		step.Value = strParam(p, "value")
		step.ValueEnv = strParam(p, "value_env")
		step.Secret = boolParam(p, "secret")

	case flow.KindFillByLabel:
		step.Label = strParam(p, "label")
		if step.Label == "" {
			return flow.Step{}, errors.New("fill_by_label: label is required")
		}
		step.Offset = intParam(p, "offset")
		step.Value = strParam(p, "value")
		step.ValueEnv = strParam(p, "value_env")
		step.Secret = boolParam(p, "secret")

	case flow.KindAssertScreen, flow.KindAssertNotScreen:
		rule := fingerprint.Rule{
			AsciiContains: strParam(p, "ascii_contains"),
			AsciiRegex:    strParam(p, "ascii_regex"),
		}
		if rule.AsciiContains == "" && rule.AsciiRegex == "" {
			return flow.Step{}, fmt.Errorf("%s: a predicate is required", act.Name)
		}
		step.Rule = &rule

	case flow.KindSnapshot, flow.KindGoldenSave, flow.KindGoldenAssert:
		step.Name = strParam(p, "name")
		if step.Name == "" && act.Name != flow.KindSnapshot {
			return flow.Step{}, fmt.Errorf("%s: name is required", act.Name)
		}

	case flow.KindSleepMS:
		step.MS = intParam(p, "ms")
		if step.MS <= 0 {
			return flow.Step{}, errors.New("sleep_ms: positive ms is required")
		}

	default:
		return flow.Step{}, fmt.Errorf("%w: %s", ErrUnknownAction, act.Name)
	}

	return step, nil
}

// ParseFreeText maps a short free-text instruction to an action. The
// vocabulary is deliberately small; anything unrecognized returns ok=false
// and the caller surfaces the raw text unacted.
func ParseFreeText(s string) (Action, bool) {
	words := strings.Fields(strings.TrimSpace(s))
	if len(words) == 0 {
		return Action{}, false
	}

	verb := strings.ToLower(words[0])
	switch verb {
	case "press", "hit":
		if len(words) < 2 {
			return Action{}, false
		}
		aid, err := session.NormalizeAID(words[1])
		if err != nil {
			return Action{}, false
		}
		return Action{Name: flow.KindPress, Params: map[string]any{"aid": aid}}, true

	case "wait":
		return Action{Name: flow.KindWaitReady, Params: map[string]any{}}, true

	case "sleep", "pause":
		if len(words) < 2 {
			return Action{}, false
		}
		ms, err := strconv.Atoi(strings.TrimSuffix(words[1], "ms"))
		if err != nil || ms <= 0 {
			return Action{}, false
		}
		return Action{Name: flow.KindSleepMS, Params: map[string]any{"ms": ms}}, true

	case "type", "fill":
		// "type VALUE into LABEL" / "fill LABEL with VALUE"
		if act, ok := splitFill(words[1:], "into", false); ok {
			return act, true
		}
		if act, ok := splitFill(words[1:], "with", true); ok {
			return act, true
		}
		return Action{}, false
	}
	return Action{}, false
}

func splitFill(words []string, sep string, labelFirst bool) (Action, bool) {
	for i, w := range words {
		if strings.EqualFold(w, sep) && i > 0 && i < len(words)-1 {
			first := strings.Join(words[:i], " ")
			second := strings.Join(words[i+1:], " ")
			label, value := second, first
			if labelFirst {
				label, value = first, second
			}
			return Action{
				Name:   flow.KindFillByLabel,
				Params: map[string]any{"label": label, "value": value},
			}, true
		}
	}
	return Action{}, false
}

// Dispatcher applies proposed actions through a flow engine. It owns no
// session state; the engine (and its driver) is handed in per call.
type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Dispatch validates one action and executes it as a single engine step.
// Validation failures return an error before anything touches the session;
// execution failures come back in the step status.
func (d *Dispatcher) Dispatch(ctx context.Context, eng *flow.Engine, act Action) (flow.StepStatus, error) {
	step, err := ToStep(act)
	if err != nil {
		d.logger.Warn("action rejected", "action", act.Name, "error", err)
		return flow.StepStatus{}, err
	}
	d.logger.Info("dispatch", "action", act.Name)
	return eng.Do(ctx, step), nil
}

func strParam(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

func boolParam(p map[string]any, key string) bool {
	if p == nil {
		return false
	}
	b, _ := p[key].(bool)
	return b
}

// intParam tolerates the numeric types JSON and YAML decoding produce.
func intParam(p map[string]any, key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
