package evaluator

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Serve runs the service side of the wire protocol: emit the ready frame,
// then answer requests line by line until EOF. Evaluation is bounded by the
// engine timeout; an expression failure becomes an ok:false response, never
// a dead process.
func Serve(ctx context.Context, in io.Reader, out io.Writer, engine *Engine) error {
	writer := bufio.NewWriter(out)
	emit := func(v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		if _, err := writer.Write(payload); err != nil {
			return err
		}
		return writer.Flush()
	}

	if err := emit(readyFrame{Ready: true}); err != nil {
		return fmt.Errorf("emit ready: %w", err)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var req evalRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			if err := emit(evalResponse{OK: false, Error: fmt.Sprintf("malformed request: %v", err)}); err != nil {
				return err
			}
			continue
		}

		result, err := engine.EvalBool(ctx, req.Expr, req.Data)
		resp := evalResponse{ID: req.ID, OK: err == nil, Result: result}
		if err != nil {
			resp.Result = false
			resp.Error = err.Error()
		}
		if err := emit(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
