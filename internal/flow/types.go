// Package flow loads declarative automation scripts and executes them
// against a terminal session.
package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"tsoflow/internal/fingerprint"
)

// Step kinds. The set is closed; a kind outside it still parses (the engine
// skips it with a warning) so old binaries tolerate new scripts.
const (
	KindWaitReady       = "wait_ready"
	KindWaitChange      = "wait_change"
	KindPress           = "press"
	KindFillAt          = "fill_at"
	KindFillByLabel     = "fill_by_label"
	KindAssertScreen    = "assert_screen"
	KindAssertNotScreen = "assert_not_screen"
	KindSnapshot        = "snapshot"
	KindGoldenSave      = "golden:save"
	KindGoldenAssert    = "golden:assert"
	KindSleepMS         = "sleep_ms"
)

// Step is one decoded instruction. Kind selects which of the remaining
// fields are meaningful.
type Step struct {
	Kind string

	TimeoutMS int // wait_ready, wait_change

	AID string // press

	Row    int    // fill_at
	Col    int    // fill_at
	Label  string // fill_by_label
	Offset int    // fill_by_label, 0 means the default of 1

	Value    string // fill_at, fill_by_label
	ValueEnv string // fill_at, fill_by_label
	Secret   bool   // fill_at, fill_by_label

	Rule *fingerprint.Rule // assert_screen, assert_not_screen

	Name string // snapshot, golden:save, golden:assert

	MS int // sleep_ms
}

// Flow is one loaded automation script.
type Flow struct {
	Name     string         `yaml:"name"`
	Imports  []string       `yaml:"imports"`
	Steps    []Step         `yaml:"steps"`
	Recovery []RecoveryRule `yaml:"recovery"`
}

// RecoveryRule pairs a screen trigger with remedial steps. The trigger may
// be a full match rule or the when_ascii_contains shortcut; a rule with
// neither never fires.
type RecoveryRule struct {
	Trigger           *fingerprint.Rule `yaml:"trigger"`
	WhenAsciiContains string            `yaml:"when_ascii_contains"`
	Do                []Step            `yaml:"do"`
}

// UnmarshalYAML decodes a single-key step object. Several kinds accept a
// bare scalar shorthand: `sleep_ms: 500`, `press: PF3`,
// `golden:assert: ready`.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: step must be a single-key object", node.Line)
	}
	key := node.Content[0].Value
	val := node.Content[1]
	s.Kind = key

	switch key {
	case KindWaitReady, KindWaitChange:
		if val.Kind == yaml.ScalarNode {
			return decode(val, key, &s.TimeoutMS)
		}
		var p struct {
			TimeoutMS int `yaml:"timeout_ms"`
		}
		if err := decode(val, key, &p); err != nil {
			return err
		}
		s.TimeoutMS = p.TimeoutMS

	case KindPress:
		if val.Kind == yaml.ScalarNode {
			return decode(val, key, &s.AID)
		}
		var p struct {
			AID string `yaml:"aid"`
		}
		if err := decode(val, key, &p); err != nil {
			return err
		}
		s.AID = p.AID

	case KindFillAt:
		var p struct {
			Row      int    `yaml:"row"`
			Col      int    `yaml:"col"`
			Value    string `yaml:"value"`
			ValueEnv string `yaml:"value_env"`
			Secret   bool   `yaml:"secret"`
		}
		if err := decode(val, key, &p); err != nil {
			return err
		}
		s.Row, s.Col = p.Row, p.Col
		s.Value, s.ValueEnv, s.Secret = p.Value, p.ValueEnv, p.Secret

	case KindFillByLabel:
		var p struct {
			Label    string `yaml:"label"`
			Offset   int    `yaml:"offset"`
			Value    string `yaml:"value"`
			ValueEnv string `yaml:"value_env"`
			Secret   bool   `yaml:"secret"`
		}
		if err := decode(val, key, &p); err != nil {
			return err
		}
		s.Label, s.Offset = p.Label, p.Offset
		s.Value, s.ValueEnv, s.Secret = p.Value, p.ValueEnv, p.Secret

	case KindAssertScreen, KindAssertNotScreen:
		var r fingerprint.Rule
		if err := decode(val, key, &r); err != nil {
			return err
		}
		s.Rule = &r

	case KindSnapshot, KindGoldenSave, KindGoldenAssert:
		if val.Kind == yaml.ScalarNode {
			return decode(val, key, &s.Name)
		}
		var p struct {
			Name string `yaml:"name"`
		}
		if err := decode(val, key, &p); err != nil {
			return err
		}
		s.Name = p.Name

	case KindSleepMS:
		if val.Kind == yaml.ScalarNode {
			return decode(val, key, &s.MS)
		}
		var p struct {
			MS int `yaml:"ms"`
		}
		if err := decode(val, key, &p); err != nil {
			return err
		}
		s.MS = p.MS

	default:
		// Unknown kind: keep the tag, drop the params.
	}
	return nil
}

func decode(node *yaml.Node, kind string, out any) error {
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("line %d: %s: %w", node.Line, kind, err)
	}
	return nil
}

// Known reports whether the step kind is in the closed set.
func (s Step) Known() bool {
	switch s.Kind {
	case KindWaitReady, KindWaitChange, KindPress, KindFillAt, KindFillByLabel,
		KindAssertScreen, KindAssertNotScreen, KindSnapshot,
		KindGoldenSave, KindGoldenAssert, KindSleepMS:
		return true
	}
	return false
}
