// apidiff-eval is the expression evaluation service: a single-purpose
// process speaking newline-delimited JSON on stdin/stdout so a crashing or
// hanging expression never takes the comparison run down with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"the-dev-tools/apidiff/pkg/evaluator"
)

func main() {
	timeout := flag.Duration("timeout", evaluator.DefaultEngineTimeout, "per-expression evaluation timeout")
	flag.Parse()

	engine := evaluator.NewEngine(*timeout)
	if err := evaluator.Serve(context.Background(), os.Stdin, os.Stdout, engine); err != nil {
		fmt.Fprintln(os.Stderr, "apidiff-eval:", err)
		os.Exit(1)
	}
}
