package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"tsoflow/internal/flow"
)

func TestToStep(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   flow.Step
		ok     bool
	}{
		{
			name:   "press",
			action: Action{Name: "press", Params: map[string]any{"aid": "pf3"}},
			want:   flow.Step{Kind: "press", AID: "pf3"},
			ok:     true,
		},
		{
			name:   "press default enter",
			action: Action{Name: "press"},
			want:   flow.Step{Kind: "press", AID: "Enter"},
			ok:     true,
		},
		{
			name:   "press bad key",
			action: Action{Name: "press", Params: map[string]any{"aid": "PF99"}},
			ok:     false,
		},
		{
			name:   "fill_at with float coords",
			action: Action{Name: "fill_at", Params: map[string]any{"row": 2.0, "col": 14.0, "value": "HERC01"}},
			want:   flow.Step{Kind: "fill_at", Row: 2, Col: 14, Value: "HERC01"},
			ok:     true,
		},
		{
			name:   "fill_at missing coords",
			action: Action{Name: "fill_at", Params: map[string]any{"value": "x"}},
			ok:     false,
		},
		{
			name:   "fill_by_label secret",
			action: Action{Name: "fill_by_label", Params: map[string]any{"label": "Password ===>", "value_env": "TSO_PASSWORD", "secret": true}},
			want:   flow.Step{Kind: "fill_by_label", Label: "Password ===>", ValueEnv: "TSO_PASSWORD", Secret: true},
			ok:     true,
		},
		{
			name:   "fill_by_label without label",
			action: Action{Name: "fill_by_label", Params: map[string]any{"value": "x"}},
			ok:     false,
		},
		{
			name:   "assert_screen",
			action: Action{Name: "assert_screen", Params: map[string]any{"ascii_contains": "READY"}},
			ok:     true,
		},
		{
			name:   "assert_screen without predicate",
			action: Action{Name: "assert_screen"},
			ok:     false,
		},
		{
			name:   "sleep with json number",
			action: Action{Name: "sleep_ms", Params: map[string]any{"ms": 250.0}},
			want:   flow.Step{Kind: "sleep_ms", MS: 250},
			ok:     true,
		},
		{
			name:   "golden assert needs name",
			action: Action{Name: "golden:assert"},
			ok:     false,
		},
		{
			name:   "wait with timeout",
			action: Action{Name: "wait_ready", Params: map[string]any{"timeout_ms": 3000}},
			want:   flow.Step{Kind: "wait_ready", TimeoutMS: 3000},
			ok:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := ToStep(tt.action)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
			if err != nil {
				return
			}
			if tt.name == "assert_screen" {
				if step.Rule == nil || step.Rule.AsciiContains != "READY" {
					t.Errorf("rule = %+v", step.Rule)
				}
				return
			}
			if step != tt.want {
				t.Errorf("step = %+v, want %+v", step, tt.want)
			}
		})
	}
}

func TestToStepRejectsUnknownAction(t *testing.T) {
	_, err := ToStep(Action{Name: "format_disk"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
}

func TestParseFreeText(t *testing.T) {
	tests := []struct {
		in   string
		name string
		ok   bool
	}{
		{"press PF3", "press", true},
		{"hit enter", "press", true},
		{"wait", "wait_ready", true},
		{"sleep 500", "sleep_ms", true},
		{"pause 250ms", "sleep_ms", true},
		{"type HERC01 into Userid ===>", "fill_by_label", true},
		{"fill Userid ===> with HERC01", "fill_by_label", true},
		{"press", "", false},
		{"press Escape", "", false},
		{"sleep soon", "", false},
		{"reboot the mainframe", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		act, ok := ParseFreeText(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseFreeText(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && act.Name != tt.name {
			t.Errorf("ParseFreeText(%q) = %q, want %q", tt.in, act.Name, tt.name)
		}
	}
}

func TestParseFreeTextFillParams(t *testing.T) {
	act, ok := ParseFreeText("type HERC01 into Userid ===>")
	if !ok {
		t.Fatal("not parsed")
	}
	if act.Params["label"] != "Userid ===>" || act.Params["value"] != "HERC01" {
		t.Errorf("params = %v", act.Params)
	}

	act, ok = ParseFreeText("fill Userid ===> with HERC01")
	if !ok {
		t.Fatal("not parsed")
	}
	if act.Params["label"] != "Userid ===>" || act.Params["value"] != "HERC01" {
		t.Errorf("params = %v", act.Params)
	}
}

func TestActionsFromResponse(t *testing.T) {
	resp := &CompletionResponse{
		Content: "Pressing enter, then waiting.",
		ToolCalls: []ToolCall{
			{ID: "t1", Name: "press", Input: map[string]any{"aid": "Enter"}},
			{ID: "t2", Name: "wait_ready", Input: map[string]any{}},
		},
	}

	actions := ActionsFromResponse(resp)
	if len(actions) != 2 {
		t.Fatalf("got %d actions", len(actions))
	}
	if actions[0].Name != "press" || actions[1].Name != "wait_ready" {
		t.Errorf("actions = %+v", actions)
	}

	if got := ActionsFromResponse(nil); got != nil {
		t.Errorf("nil response = %v", got)
	}
}

func TestToolDefinitionsCoverValidActions(t *testing.T) {
	for _, def := range ToolDefinitions() {
		act := Action{Name: def.Name, Params: map[string]any{
			"aid": "Enter", "row": 1, "col": 1, "label": "x",
			"ascii_contains": "x", "ms": 1, "name": "x",
		}}
		if _, err := ToStep(act); err != nil {
			t.Errorf("tool %q does not convert: %v", def.Name, err)
		}
	}
}

func TestDispatcherRejectsBeforeTouchingSession(t *testing.T) {
	d := NewDispatcher(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	_, err := d.Dispatch(context.Background(), nil, Action{Name: "format_disk"})
	if err == nil {
		t.Error("expected validation error")
	}
}
