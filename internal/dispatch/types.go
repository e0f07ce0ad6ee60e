// Package dispatch is the boundary between natural-language goals and
// terminal actions. An LLM (or a human typing free text) proposes actions;
// everything is re-validated against the closed step set before anything
// touches the session.
package dispatch

import "context"

// LLMClient is the completion boundary. Implementations wrap a concrete
// model API; this package never imports one.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest carries a prompt plus the tool definitions the model may
// call.
type CompletionRequest struct {
	Prompt    string
	Tools     []ToolDefinition
	MaxTokens int
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// CompletionResponse is the model's reply: free text plus zero or more
// structured tool calls.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
}

// ToolCall is one structured action proposed by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Action is a proposed terminal action, not yet validated.
type Action struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ActionsFromResponse extracts the proposed actions from a completion.
func ActionsFromResponse(resp *CompletionResponse) []Action {
	if resp == nil {
		return nil
	}
	actions := make([]Action, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		actions = append(actions, Action{Name: tc.Name, Params: tc.Input})
	}
	return actions
}

// ToolDefinitions describes the step vocabulary to a model. The schema is
// deliberately loose; ToStep is the real gatekeeper.
func ToolDefinitions() []ToolDefinition {
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "integer"}
	boolean := map[string]any{"type": "boolean"}
	obj := func(props map[string]any, required ...string) map[string]any {
		s := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	}

	return []ToolDefinition{
		{Name: "wait_ready", Description: "Wait until the session accepts input.",
			InputSchema: obj(map[string]any{"timeout_ms": num})},
		{Name: "wait_change", Description: "Wait until the screen content changes.",
			InputSchema: obj(map[string]any{"timeout_ms": num})},
		{Name: "press", Description: "Press an AID key: Enter, Clear, PF1-PF24, PA1-PA3.",
			InputSchema: obj(map[string]any{"aid": str}, "aid")},
		{Name: "fill_at", Description: "Type text at a 1-based row/col position.",
			InputSchema: obj(map[string]any{"row": num, "col": num, "value": str, "secret": boolean}, "row", "col")},
		{Name: "fill_by_label", Description: "Type text into the input area following a screen label.",
			InputSchema: obj(map[string]any{"label": str, "offset": num, "value": str, "secret": boolean}, "label")},
		{Name: "assert_screen", Description: "Check that the screen contains or matches the given text.",
			InputSchema: obj(map[string]any{"ascii_contains": str, "ascii_regex": str})},
		{Name: "snapshot", Description: "Capture the current screen.",
			InputSchema: obj(map[string]any{"name": str})},
		{Name: "sleep_ms", Description: "Pause for the given number of milliseconds.",
			InputSchema: obj(map[string]any{"ms": num}, "ms")},
	}
}
