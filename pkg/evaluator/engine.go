package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"the-dev-tools/apidiff/pkg/errmap"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/vm"
)

const DefaultEngineTimeout = 2 * time.Second

// Engine evaluates expressions in-process with expr-lang. Programs are
// compiled once per expression string and cached; the cache is append-only.
type Engine struct {
	timeout time.Duration
}

func NewEngine(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultEngineTimeout
	}
	return &Engine{timeout: timeout}
}

var (
	programCache    sync.Map // map[string]*vm.Program
	emptyCompileEnv = map[string]any{}
)

func compileBool(expression string) (*vm.Program, error) {
	if cached, ok := programCache.Load(expression); ok {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(expression, expr.Env(emptyCompileEnv), expr.AsBool())
	if err != nil {
		return nil, wrapExpressionError(expression, true, err)
	}
	programCache.Store(expression, program)
	return program, nil
}

func wrapExpressionError(expression string, compile bool, err error) error {
	if err == nil {
		return nil
	}

	code := errmap.CodeExpressionRuntime
	phaseVerb := "evaluating"
	if compile {
		code = errmap.CodeExpressionSyntax
		phaseVerb = "parsing"
	}

	var fileErr *file.Error
	if errors.As(err, &fileErr) {
		location := ""
		if fileErr.Line > 0 {
			location = fmt.Sprintf(" at line %d", fileErr.Line)
			if fileErr.Column >= 0 {
				location += fmt.Sprintf(" column %d", fileErr.Column+1)
			}
		}
		message := fmt.Sprintf("error %s expression%s: %s", phaseVerb, location, fileErr.Message)
		return errmap.New(code, message, err)
	}

	return errmap.New(code, fmt.Sprintf("error %s expression: %v", phaseVerb, err), err)
}

// EvalBool compiles (or reuses) the expression and runs it against data.
// A run that exceeds the engine timeout fails; the comparator sees a normal
// evaluation error, not a hang.
func (e *Engine) EvalBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	program, err := compileBool(expression)
	if err != nil {
		return false, &EvalError{Expr: expression, Message: err.Error()}
	}

	if data == nil {
		data = map[string]any{}
	}

	type evalOutcome struct {
		result bool
		err    error
	}
	outcome := make(chan evalOutcome, 1)
	go func() {
		output, err := vm.Run(program, data)
		if err != nil {
			outcome <- evalOutcome{err: wrapExpressionError(expression, false, err)}
			return
		}
		result, ok := output.(bool)
		if !ok {
			outcome <- evalOutcome{err: fmt.Errorf("expected bool result, got %T", output)}
			return
		}
		outcome <- evalOutcome{result: result}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case o := <-outcome:
		if o.err != nil {
			return false, &EvalError{Expr: expression, Message: o.err.Error()}
		}
		return o.result, nil
	case <-timer.C:
		return false, &EvalError{Expr: expression, Message: "evaluation timed out"}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var _ Evaluator = (*Engine)(nil)
