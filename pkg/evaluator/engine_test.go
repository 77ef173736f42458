package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineEvalBool(t *testing.T) {
	engine := NewEngine(time.Second)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want bool
	}{
		{"equal ints", "a == b", map[string]any{"a": 200, "b": 200}, true},
		{"unequal ints", "a == b", map[string]any{"a": 200, "b": 404}, false},
		{"equal strings", "a == b", map[string]any{"a": "x", "b": "x"}, true},
		{"tolerance pass", "abs(a - b) <= 0.5", map[string]any{"a": 1.2, "b": 1.4}, true},
		{"tolerance fail", "abs(a - b) <= 0.5", map[string]any{"a": 1.0, "b": 2.0}, false},
		{"regex", `a matches "^v\\d+$"`, map[string]any{"a": "v12"}, true},
		{"case fold", "lower(a) == lower(b)", map[string]any{"a": "ETag", "b": "etag"}, true},
		{"length", "len(a) == len(b)", map[string]any{"a": []any{1, 2}, "b": []any{3, 4}}, true},
		{"null equality", "a == b", map[string]any{"a": nil, "b": nil}, true},
		{"always true", "true", nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.EvalBool(ctx, tc.expr, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEngineSyntaxError(t *testing.T) {
	engine := NewEngine(time.Second)

	_, err := engine.EvalBool(context.Background(), "a ==", map[string]any{"a": 1})
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "a ==", evalErr.Expr)
}

func TestEngineRuntimeError(t *testing.T) {
	engine := NewEngine(time.Second)

	_, err := engine.EvalBool(context.Background(), "len(a) > 0", map[string]any{"a": 5})
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
}

func TestEngineRuntimeErrorIsNotFatal(t *testing.T) {
	engine := NewEngine(time.Second)

	_, err := engine.EvalBool(context.Background(), "a ==", nil)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestEngineDefaultTimeout(t *testing.T) {
	engine := NewEngine(0)
	assert.Equal(t, DefaultEngineTimeout, engine.timeout)
}

func TestEngineReusesCompiledPrograms(t *testing.T) {
	engine := NewEngine(time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := engine.EvalBool(ctx, "a != b", map[string]any{"a": i, "b": -1})
		require.NoError(t, err)
		assert.True(t, got)
	}
}
