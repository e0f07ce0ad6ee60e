package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"tsoflow/internal/flow"
	"tsoflow/internal/golden"
	"tsoflow/internal/transcript"
)

// Difference kinds.
const (
	DiffOutcome      = "outcome"
	DiffDigestBefore = "digest_before"
	DiffDigestAfter  = "digest_after"
)

// Difference is one divergence between the recorded run and the replay.
type Difference struct {
	Step     int    `json:"step"`
	Tool     string `json:"tool"`
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Harness replays transcripts against a golden store.
type Harness struct {
	store  *golden.Store
	logger *slog.Logger
}

// NewHarness builds a harness over one golden store.
func NewHarness(store *golden.Store, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{store: store, logger: logger}
}

// Replay steps through a recorded transcript with a mock session. Per
// record it checks that the before/after digests still resolve to known
// goldens and that re-deriving the step outcome from the golden screens
// agrees with what was recorded.
func (h *Harness) Replay(transcriptPath string) (*Report, error) {
	entries, err := transcript.Read(transcriptPath)
	if err != nil {
		return nil, err
	}

	driver, err := NewMockDriver(h.store)
	if err != nil {
		return nil, err
	}

	report := &Report{Transcript: transcriptPath, Total: len(entries)}

	for i, entry := range entries {
		var diffs []Difference

		if entry.DigestBefore != "" && !driver.ShowByDigest(entry.DigestBefore) {
			diffs = append(diffs, Difference{
				Step: i, Tool: entry.Tool, Kind: DiffDigestBefore,
				Expected: entry.DigestBefore, Actual: "no golden with this digest",
			})
		}

		outcome := h.deriveOutcome(driver, entry)
		if outcome != entry.Outcome {
			diffs = append(diffs, Difference{
				Step: i, Tool: entry.Tool, Kind: DiffOutcome,
				Expected: entry.Outcome, Actual: outcome,
			})
		}

		if entry.DigestAfter != "" && !driver.ShowByDigest(entry.DigestAfter) {
			diffs = append(diffs, Difference{
				Step: i, Tool: entry.Tool, Kind: DiffDigestAfter,
				Expected: entry.DigestAfter, Actual: "no golden with this digest",
			})
		}

		if len(diffs) == 0 {
			report.Matched++
		} else {
			report.Differences = append(report.Differences, diffs...)
		}
		h.logger.Debug("replayed", "step", i, "tool", entry.Tool, "diffs", len(diffs))
	}

	return report, nil
}

// deriveOutcome re-runs as much of a recorded step as redacted parameters
// allow, against the currently shown golden screen. Steps that cannot be
// re-derived (secret fills, opaque rules) take the recorded outcome on
// trust.
func (h *Harness) deriveOutcome(driver *MockDriver, entry transcript.Entry) string {
	current := driver.Screen()

	switch entry.Tool {
	case flow.KindPress:
		aid, _ := entry.Params["aid"].(string)
		if aid == "" {
			aid = "Enter"
		}
		if err := driver.PressKey(context.Background(), aid); err != nil {
			return "failure"
		}
		return "success"

	case flow.KindAssertScreen, flow.KindAssertNotScreen:
		desc, _ := entry.Params["rule"].(string)
		needle, ok := strings.CutPrefix(desc, "ascii_contains: ")
		if !ok || current == nil {
			return entry.Outcome
		}
		matched := strings.Contains(current.Text, needle)
		if entry.Tool == flow.KindAssertNotScreen {
			matched = !matched
		}
		if matched {
			return "success"
		}
		return "failure"

	case flow.KindFillByLabel:
		label, _ := entry.Params["label"].(string)
		if label == "" || current == nil {
			return entry.Outcome
		}
		if strings.Contains(current.Text, label) {
			return "success"
		}
		return "failure"

	case flow.KindGoldenAssert:
		name, _ := entry.Params["name"].(string)
		if name == "" || current == nil {
			return entry.Outcome
		}
		g, err := h.store.Load(name)
		if err != nil {
			return "failure"
		}
		if g.Meta.Digest == current.Meta.Digest {
			return "success"
		}
		return "failure"

	default:
		// wait_ready, wait_change, sleep_ms, fill_at, snapshot,
		// golden:save: nothing to re-derive offline.
		return entry.Outcome
	}
}

// Report summarizes one replay.
type Report struct {
	Transcript  string       `json:"transcript"`
	Total       int          `json:"total"`
	Matched     int          `json:"matched"`
	Differences []Difference `json:"differences,omitempty"`
}

// Clean reports whether the replay matched the recording everywhere.
func (r *Report) Clean() bool {
	return len(r.Differences) == 0
}

// FormatCLI renders the report for terminal output.
func (r *Report) FormatCLI() string {
	var b strings.Builder
	fmt.Fprintf(&b, "replay: %s\n", r.Transcript)
	fmt.Fprintf(&b, "steps: %d  matched: %d  differences: %d\n", r.Total, r.Matched, len(r.Differences))
	for _, d := range r.Differences {
		fmt.Fprintf(&b, "  step %d %s [%s]: expected %s, got %s\n", d.Step, d.Tool, d.Kind, d.Expected, d.Actual)
	}
	if r.Clean() {
		b.WriteString("deterministic: no differences\n")
	}
	return b.String()
}

// FormatJSON renders the report as indented JSON.
func (r *Report) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}
