package comparelib

import (
	"fmt"
	"strconv"
	"strings"
)

// PredefinedComparison is a named expression template. Params lists the
// required parameter names; each `{name}` occurrence in Expression is
// replaced by the literal form of the supplied value at expansion time.
type PredefinedComparison struct {
	Name       string   `json:"name" yaml:"name"`
	Expression string   `json:"expression" yaml:"expression"`
	Params     []string `json:"params,omitempty" yaml:"params,omitempty"`
}

type Library map[string]PredefinedComparison

type UnknownComparisonError struct {
	Name string
}

func (e *UnknownComparisonError) Error() string {
	return fmt.Sprintf("unknown predefined comparison %q", e.Name)
}

type MissingParamError struct {
	Name  string
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("predefined comparison %q missing required parameter %q", e.Name, e.Param)
}

// Expand resolves a predefined comparison into a concrete expression by
// literal substitution of every declared parameter.
func (l Library) Expand(name string, params map[string]any) (string, error) {
	c, ok := l[name]
	if !ok {
		return "", &UnknownComparisonError{Name: name}
	}
	expr := c.Expression
	for _, p := range c.Params {
		v, ok := params[p]
		if !ok {
			return "", &MissingParamError{Name: name, Param: p}
		}
		expr = strings.ReplaceAll(expr, "{"+p+"}", Literal(v))
	}
	return expr, nil
}

// Literal renders a parameter value as expression source text: numbers and
// booleans as-is, strings quoted with backslash escaping.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case string:
		return quote(val)
	default:
		return quote(fmt.Sprintf("%v", val))
	}
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Default returns the library shipped with the tool. Bindings `a` and `b`
// are the field's value on each target.
func Default() Library {
	comparisons := []PredefinedComparison{
		{Name: "exact_match", Expression: "a == b"},
		{Name: "ignore", Expression: "true"},
		{Name: "numeric_tolerance", Expression: "abs(a - b) <= {tolerance}", Params: []string{"tolerance"}},
		{Name: "regex_match", Expression: "a matches {pattern} && b matches {pattern}", Params: []string{"pattern"}},
		{Name: "case_insensitive_match", Expression: "lower(a) == lower(b)"},
		{Name: "length_match", Expression: "len(a) == len(b)"},
	}
	lib := make(Library, len(comparisons))
	for _, c := range comparisons {
		lib[c.Name] = c
	}
	return lib
}
