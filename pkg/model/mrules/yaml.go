package mrules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawFieldRule mirrors FieldRule for YAML decoding; the pointer keeps an
// omitted presence distinguishable from an explicit "parity".
type rawFieldRule struct {
	Presence   *string        `yaml:"presence"`
	Predefined string         `yaml:"predefined"`
	Params     map[string]any `yaml:"params"`
	Expression string         `yaml:"expression"`
}

func (r *FieldRule) UnmarshalYAML(node *yaml.Node) error {
	var raw rawFieldRule
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := FieldRule{
		Predefined: raw.Predefined,
		Params:     raw.Params,
		Expression: raw.Expression,
	}
	if raw.Presence != nil {
		if err := out.Presence.UnmarshalText([]byte(*raw.Presence)); err != nil {
			return err
		}
		out.PresenceSet = true
	}
	*r = out
	return nil
}

func (p Presence) MarshalYAML() (any, error) {
	text, err := p.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(text), nil
}

// RuleSet maps operation ids to their rules.
type RuleSet map[string]OperationRules

func (rs RuleSet) Validate() error {
	for op, rules := range rs {
		if err := rules.Validate(); err != nil {
			return fmt.Errorf("operation %q: %w", op, err)
		}
	}
	return nil
}

// LoadRuleSet reads and validates a YAML rule set. Invalid rules fail here,
// before any request is attempted.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}
