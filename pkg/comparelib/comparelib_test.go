package comparelib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandNoParams(t *testing.T) {
	lib := Default()

	expr, err := lib.Expand("exact_match", nil)
	require.NoError(t, err)
	assert.Equal(t, "a == b", expr)
}

func TestExpandNumericTolerance(t *testing.T) {
	lib := Default()

	expr, err := lib.Expand("numeric_tolerance", map[string]any{"tolerance": 0.5})
	require.NoError(t, err)
	assert.Equal(t, "abs(a - b) <= 0.5", expr)
}

func TestExpandRegexQuotesPattern(t *testing.T) {
	lib := Default()

	expr, err := lib.Expand("regex_match", map[string]any{"pattern": `^v\d+$`})
	require.NoError(t, err)
	assert.Equal(t, `a matches "^v\\d+$" && b matches "^v\\d+$"`, expr)
}

func TestExpandUnknownComparison(t *testing.T) {
	lib := Default()

	_, err := lib.Expand("no_such_comparison", nil)
	var unknown *UnknownComparisonError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no_such_comparison", unknown.Name)
}

func TestExpandMissingParam(t *testing.T) {
	lib := Default()

	_, err := lib.Expand("numeric_tolerance", map[string]any{})
	var missing *MissingParamError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "tolerance", missing.Param)
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "nil"},
		{true, "true"},
		{false, "false"},
		{42, "42"},
		{int64(7), "7"},
		{3.5, "3.5"},
		{float64(10), "10"},
		{"plain", `"plain"`},
		{`with "quotes"`, `"with \"quotes\""`},
		{`back\slash`, `"back\\slash"`},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Literal(tc.in), "literal of %v", tc.in)
	}
}

func TestDefaultLibraryComplete(t *testing.T) {
	lib := Default()
	for _, name := range []string{
		"exact_match", "ignore", "numeric_tolerance",
		"regex_match", "case_insensitive_match", "length_match",
	} {
		_, ok := lib[name]
		assert.True(t, ok, "missing %s", name)
	}
}
