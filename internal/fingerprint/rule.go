package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"tsoflow/internal/screen"
)

// Rule is a declarative screen-identification predicate. A rule with no
// predicate present never matches: identification fails closed.
type Rule struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Direct predicates evaluated against the raw screen text.
	AsciiContains string `yaml:"ascii_contains,omitempty" json:"ascii_contains,omitempty"`
	AsciiRegex    string `yaml:"ascii_regex,omitempty" json:"ascii_regex,omitempty"`

	// Match groups nested predicates with optional dimension constraints.
	Match *RuleSet `yaml:"match,omitempty" json:"match,omitempty"`

	// Any is a top-level OR over nested rules.
	Any []Rule `yaml:"any,omitempty" json:"any,omitempty"`

	// Stability rejects partially-rendered or transitional screens.
	Stability *Stability `yaml:"stability,omitempty" json:"stability,omitempty"`
}

// RuleSet composes nested rules with AND/OR logic and dimension constraints.
type RuleSet struct {
	Any  []Rule `yaml:"any,omitempty" json:"any,omitempty"`
	All  []Rule `yaml:"all,omitempty" json:"all,omitempty"`
	Rows int    `yaml:"rows,omitempty" json:"rows,omitempty"`
	Cols int    `yaml:"cols,omitempty" json:"cols,omitempty"`
}

// Stability constrains how much content a screen must carry before it can
// be identified.
type Stability struct {
	// MinChars is the minimum count of non-whitespace characters.
	MinChars int `yaml:"min_chars,omitempty" json:"min_chars,omitempty"`
}

// Describe returns a short label for a rule, for logs and transcripts.
func (r Rule) Describe() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.AsciiContains != "":
		return "ascii_contains: " + r.AsciiContains
	case r.AsciiRegex != "":
		return "ascii_regex: " + r.AsciiRegex
	case r.Match != nil:
		return "match group"
	case len(r.Any) > 0:
		return "any group"
	}
	return "empty rule"
}

// Eval matches a snapshot against a rule. On success it returns a description
// of the predicate that matched ("ascii_contains: READY"); AND matches return
// the conjunction of descriptions joined by " AND ". Dimension and stability
// constraints are checked first and short-circuit to a non-match.
//
// Content predicates run against the raw snapshot text, not the normalized
// form: screen identification cares about what is actually on the wire.
func Eval(snap *screen.Snapshot, rule Rule) (bool, string) {
	if rule.Match != nil {
		if rule.Match.Cols != 0 && snap.Cols != rule.Match.Cols {
			return false, ""
		}
		if rule.Match.Rows != 0 && snap.Rows != rule.Match.Rows {
			return false, ""
		}
	}
	if rule.Stability != nil && rule.Stability.MinChars > 0 {
		if visibleChars(snap.Text) < rule.Stability.MinChars {
			return false, ""
		}
	}

	text := snap.Text

	if ok, desc := evalLeaf(rule.AsciiContains, rule.AsciiRegex, text); ok {
		return true, desc
	}

	if rule.Match != nil {
		if ok, desc := evalAny(rule.Match.Any, text); ok {
			return true, desc
		}
		if ok, desc := evalAll(rule.Match.All, text); ok {
			return true, desc
		}
	}

	if ok, desc := evalAny(rule.Any, text); ok {
		return true, desc
	}

	return false, ""
}

// evalLeaf checks the direct contains/regex predicates of one rule.
func evalLeaf(contains, pattern, text string) (bool, string) {
	if contains != "" && strings.Contains(text, contains) {
		return true, fmt.Sprintf("ascii_contains: %s", contains)
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err == nil && re.MatchString(text) {
			return true, fmt.Sprintf("ascii_regex: %s", pattern)
		}
	}
	return false, ""
}

// evalAny is OR logic: the first sub-rule to match wins.
func evalAny(rules []Rule, text string) (bool, string) {
	for _, r := range rules {
		if ok, desc := evalLeaf(r.AsciiContains, r.AsciiRegex, text); ok {
			return true, desc
		}
	}
	return false, ""
}

// evalAll is AND logic: every sub-rule must match. A group with no sub-rules
// does not match (fails closed). A sub-rule carrying both predicates matches
// on either, and every predicate that hit contributes to the joined
// description.
func evalAll(rules []Rule, text string) (bool, string) {
	if len(rules) == 0 {
		return false, ""
	}
	descs := make([]string, 0, len(rules))
	for _, r := range rules {
		matched := false
		if r.AsciiContains != "" && strings.Contains(text, r.AsciiContains) {
			matched = true
			descs = append(descs, "ascii_contains: "+r.AsciiContains)
		}
		if r.AsciiRegex != "" {
			re, err := regexp.Compile(r.AsciiRegex)
			if err == nil && re.MatchString(text) {
				matched = true
				descs = append(descs, "ascii_regex: "+r.AsciiRegex)
			}
		}
		if !matched {
			return false, ""
		}
	}
	return true, strings.Join(descs, " AND ")
}

// visibleChars counts non-whitespace characters in screen text.
func visibleChars(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			n++
		}
	}
	return n
}
