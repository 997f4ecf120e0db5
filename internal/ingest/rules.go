package ingest

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules are data: a predicate tree over event field paths plus an
// ordered action list. Adding behavior is a rule change, not a code
// change.

// Predicate is one node of the match tree. Exactly one of Op or the
// combinators (All/Any/Not) is set per node.
type Predicate struct {
	// Leaf match: Field is a dot path into the event ("type",
	// "payload.temperature"); Op compares against Value.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Op    string `yaml:"op,omitempty" json:"op,omitempty"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`

	// Combinators.
	All []Predicate `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Predicate `yaml:"any,omitempty" json:"any,omitempty"`
	Not *Predicate  `yaml:"not,omitempty" json:"not,omitempty"`
}

// Comparison operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpExists   = "exists"
)

// ActionSpec names a registered action and its parameters.
type ActionSpec struct {
	Name   string         `yaml:"action" json:"action"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Rule binds a predicate to its actions. Higher priority runs first;
// equal priorities keep registration order.
type Rule struct {
	Name     string       `yaml:"name" json:"name"`
	Priority int          `yaml:"priority" json:"priority"`
	Enabled  bool         `yaml:"enabled" json:"enabled"`
	When     Predicate    `yaml:"when" json:"when"`
	Actions  []ActionSpec `yaml:"actions" json:"actions"`
}

// Matches evaluates the rule's predicate against the event.
func (r Rule) Matches(ev SourceEvent) bool {
	return evalPredicate(r.When, ev)
}

func evalPredicate(p Predicate, ev SourceEvent) bool {
	switch {
	case len(p.All) > 0:
		for _, sub := range p.All {
			if !evalPredicate(sub, ev) {
				return false
			}
		}
		return true
	case len(p.Any) > 0:
		for _, sub := range p.Any {
			if evalPredicate(sub, ev) {
				return true
			}
		}
		return false
	case p.Not != nil:
		return !evalPredicate(*p.Not, ev)
	}

	value, present := lookupField(ev, p.Field)

	switch p.Op {
	case OpExists:
		return present
	case OpEq:
		return present && compareEq(value, p.Value)
	case OpNeq:
		return !present || !compareEq(value, p.Value)
	case OpContains:
		got, ok1 := value.(string)
		want, ok2 := p.Value.(string)
		return present && ok1 && ok2 && strings.Contains(strings.ToLower(got), strings.ToLower(want))
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		a, okA := toFloat(value)
		b, okB := toFloat(p.Value)
		if !okA || !okB {
			return false
		}
		switch p.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

// lookupField resolves a dot path. "source", "type", and "external_id"
// address the envelope; "payload.x.y" descends into the payload map.
func lookupField(ev SourceEvent, path string) (any, bool) {
	switch path {
	case "source":
		return ev.Source, true
	case "type":
		return ev.Type, true
	case "external_id":
		return ev.ExternalID, true
	}

	parts := strings.Split(path, ".")
	if parts[0] != "payload" {
		return nil, false
	}

	var current any = ev.Payload
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compareEq(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// RuleSet holds the active rules in evaluation order.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet orders rules by priority descending; equal priorities
// keep the given order.
func NewRuleSet(rules []Rule) *RuleSet {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return &RuleSet{rules: ordered}
}

// Match returns the enabled rules matching the event, in execution order.
func (s *RuleSet) Match(ev SourceEvent) []Rule {
	matched := make([]Rule, 0)
	for _, r := range s.rules {
		if r.Enabled && r.Matches(ev) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Rules returns the full ordered set, for the admin surface.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile parses a YAML rule file.
func LoadRulesFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules parses YAML rule definitions and validates action names
// are present.
func ParseRules(raw []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range file.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: missing name", i)
		}
		if len(r.Actions) == 0 {
			return nil, fmt.Errorf("rule %q: no actions", r.Name)
		}
		for _, a := range r.Actions {
			if a.Name == "" {
				return nil, fmt.Errorf("rule %q: action missing name", r.Name)
			}
		}
	}
	return file.Rules, nil
}
