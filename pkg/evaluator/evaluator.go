// Package evaluator evaluates boolean expressions against named data
// bindings. Two implementations exist: Engine runs expr-lang in-process,
// Service drives an isolated subprocess over newline-delimited JSON. Both
// bound evaluation time and surface a distinct fatal condition when the
// evaluator becomes permanently unavailable.
package evaluator

import (
	"context"
	"errors"
	"fmt"
)

type Evaluator interface {
	EvalBool(ctx context.Context, expr string, data map[string]any) (bool, error)
}

// EvalError is a single failed evaluation: a syntax error, a runtime error,
// or a service-side failure. It never ends a run; the comparator records it
// as an error-marked difference and moves on.
type EvalError struct {
	Expr    string
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("expression %q failed: %s", e.Expr, e.Message)
}

// ProtocolError is a violation of the service wire contract, such as a
// response carrying an unexpected id. Distinct from an evaluation error.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "evaluator protocol error: " + e.Message
}

// FatalError means the evaluator is permanently unavailable (the restart
// budget is spent). Callers must treat it as run-ending, unlike EvalError.
type FatalError struct {
	cause error
}

func (e *FatalError) Error() string {
	if e.cause == nil {
		return "expression evaluator unavailable"
	}
	return "expression evaluator unavailable: " + e.cause.Error()
}

func (e *FatalError) Unwrap() error { return e.cause }

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
