package mrules

import (
	"fmt"
)

type Presence int8

const (
	PresenceParity Presence = iota
	PresenceRequired
	PresenceOptional
	PresenceForbidden
)

var presenceNames = map[Presence]string{
	PresenceParity:    "parity",
	PresenceRequired:  "required",
	PresenceOptional:  "optional",
	PresenceForbidden: "forbidden",
}

func (p Presence) String() string {
	if s, ok := presenceNames[p]; ok {
		return s
	}
	return fmt.Sprintf("presence(%d)", int8(p))
}

func (p Presence) MarshalText() ([]byte, error) {
	s, ok := presenceNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown presence mode %d", int8(p))
	}
	return []byte(s), nil
}

func (p *Presence) UnmarshalText(data []byte) error {
	s := string(data)
	if s == "" {
		*p = PresenceParity
		return nil
	}
	for mode, name := range presenceNames {
		if name == s {
			*p = mode
			return nil
		}
	}
	return fmt.Errorf("unknown presence mode %q", s)
}

type ComparisonKind int8

const (
	ComparisonPresenceOnly ComparisonKind = iota
	ComparisonPredefined
	ComparisonCustom
)

// FieldRule pairs a presence mode with at most one comparison: a named
// predefined comparison with parameters, or a custom expression. Neither set
// means the rule checks presence only.
type FieldRule struct {
	Presence   Presence       `json:"presence,omitempty" yaml:"presence,omitempty"`
	Predefined string         `json:"predefined,omitempty" yaml:"predefined,omitempty"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Expression string         `json:"expression,omitempty" yaml:"expression,omitempty"`

	// PresenceSet distinguishes an explicit presence:parity from an omitted
	// one; predefined=ignore defaults omitted presence to optional.
	PresenceSet bool `json:"presence_set,omitempty" yaml:"presence_set,omitempty"`
}

func (r FieldRule) Kind() ComparisonKind {
	switch {
	case r.Predefined != "":
		return ComparisonPredefined
	case r.Expression != "":
		return ComparisonCustom
	default:
		return ComparisonPresenceOnly
	}
}

func (r FieldRule) Validate() error {
	if r.Predefined != "" && r.Expression != "" {
		return fmt.Errorf("field rule cannot set both predefined %q and a custom expression", r.Predefined)
	}
	if r.Predefined == "" && len(r.Params) > 0 {
		return fmt.Errorf("field rule params require a predefined comparison")
	}
	return nil
}

// IgnoreName is the predefined comparison that skips a field entirely.
const IgnoreName = "ignore"

// EffectivePresence resolves the presence mode the comparator enforces.
// An ignore rule without explicit presence fully skips the field.
func (r FieldRule) EffectivePresence() Presence {
	if r.Predefined == IgnoreName && !r.PresenceSet {
		return PresenceOptional
	}
	return r.Presence
}

// BodyRules carries JSONPath field rules plus one optional rule over the
// base64-encoded raw body.
type BodyRules struct {
	FieldRules map[string]FieldRule `json:"field_rules,omitempty" yaml:"field_rules,omitempty"`
	Binary     *FieldRule           `json:"binary,omitempty" yaml:"binary,omitempty"`
}

func (b BodyRules) Validate() error {
	for path, rule := range b.FieldRules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("field rule %q: %w", path, err)
		}
	}
	if b.Binary != nil {
		if err := b.Binary.Validate(); err != nil {
			return fmt.Errorf("binary rule: %w", err)
		}
		if b.Binary.EffectivePresence() != PresenceParity {
			return fmt.Errorf("binary rule presence must be parity, got %s", b.Binary.EffectivePresence())
		}
	}
	return nil
}

// OperationRules is the rule set for one operation: status code, headers by
// name, and body.
type OperationRules struct {
	StatusCode *FieldRule           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Headers    map[string]FieldRule `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       BodyRules            `json:"body,omitempty" yaml:"body,omitempty"`
}

func (o OperationRules) Validate() error {
	if o.StatusCode != nil {
		if err := o.StatusCode.Validate(); err != nil {
			return fmt.Errorf("status rule: %w", err)
		}
	}
	for name, rule := range o.Headers {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("header rule %q: %w", name, err)
		}
	}
	return o.Body.Validate()
}
