// apidiff executes recorded request cases against two API targets and
// reports, per case, whether the responses match under the configured rules.
// Verdicts stream to stdout as newline-delimited JSON.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"the-dev-tools/apidiff/pkg/compare"
	"the-dev-tools/apidiff/pkg/comparelib"
	"the-dev-tools/apidiff/pkg/config"
	"the-dev-tools/apidiff/pkg/evaluator"
	"the-dev-tools/apidiff/pkg/executor"
	"the-dev-tools/apidiff/pkg/model/mcase"
	"the-dev-tools/apidiff/pkg/model/mresponse"
	"the-dev-tools/apidiff/pkg/model/mresult"
	"the-dev-tools/apidiff/pkg/model/mrules"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
)

const (
	exitMismatch = 1
	exitFatal    = 2
)

func main() {
	app := &cli.App{
		Name:  "apidiff",
		Usage: "differential API testing: replay cases against two targets and compare responses",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "run configuration file", Required: true},
			&cli.StringFlag{Name: "rules", Usage: "rule set file (overrides the config)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "execute independent request cases from an NDJSON file",
				ArgsUsage: "<cases.ndjson>",
				Action:    runCases,
			},
			{
				Name:      "chain",
				Usage:     "execute a multi-step chain case from a JSON file",
				ArgsUsage: "<chain.json>",
				Action:    runChain,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		code := exitFatal
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "apidiff:", msg)
		}
		os.Exit(code)
	}
}

type runEnv struct {
	log   *slog.Logger
	cfg   *config.Config
	rules mrules.RuleSet
	exec  *executor.Executor
	comp  *compare.Comparator
	close func()
}

func setup(c *cli.Context) (*runEnv, error) {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	rulesPath := c.String("rules")
	if rulesPath == "" {
		rulesPath = cfg.Rules
	}
	rules := mrules.RuleSet{}
	if rulesPath != "" {
		rules, err = mrules.LoadRuleSet(rulesPath)
		if err != nil {
			return nil, err
		}
	}

	exec, err := executor.New(cfg.TargetA(), cfg.TargetB(), cfg.ExecutorOptions(log))
	if err != nil {
		return nil, err
	}

	var eval evaluator.Evaluator
	closeEval := func() {}
	if cfg.Evaluator.Path != "" {
		svc, err := evaluator.NewService(cfg.ServiceConfig(log))
		if err != nil {
			return nil, err
		}
		if err := svc.Start(c.Context); err != nil {
			return nil, err
		}
		eval = svc
		closeEval = func() { _ = svc.Close() }
	} else {
		timeout := cfg.Evaluator.EvalTimeout.Std()
		if timeout <= 0 {
			timeout = evaluator.DefaultEngineTimeout
		}
		eval = evaluator.NewEngine(timeout)
	}

	return &runEnv{
		log:   log,
		cfg:   cfg,
		rules: rules,
		exec:  exec,
		comp:  compare.New(eval, comparelib.Default(), compare.WithLogger(log)),
		close: closeEval,
	}, nil
}

// verdictRecord is one NDJSON output line.
type verdictRecord struct {
	CaseID      string                    `json:"case_id,omitempty"`
	ChainID     string                    `json:"chain_id,omitempty"`
	Step        *int                      `json:"step,omitempty"`
	OperationID string                    `json:"operation_id"`
	Result      *mresult.ComparisonResult `json:"result,omitempty"`
	Error       *executionError           `json:"error,omitempty"`
}

type executionError struct {
	Target  string `json:"target,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func emit(w io.Writer, record verdictRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runCases(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("run needs exactly one cases file", exitFatal)
	}
	rt, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer rt.close()

	file, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer func() { _ = file.Close() }()

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()

	var matched, mismatched, failed int
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rc mcase.RequestCase
		if err := json.Unmarshal(line, &rc); err != nil {
			return cli.Exit(fmt.Sprintf("parse case: %v", err), exitFatal)
		}

		record := verdictRecord{CaseID: rc.CaseID.String(), OperationID: rc.OperationID}
		pair, err := rt.exec.Execute(c.Context, rc)
		if err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
		if execErr := firstError(pair); execErr != nil {
			failed++
			record.Error = execErr
			if err := emit(out, record); err != nil {
				return cli.Exit(err.Error(), exitFatal)
			}
			continue
		}

		result, err := rt.comp.Compare(c.Context, rc.OperationID, pair.A.Response, pair.B.Response, rt.rules[rc.OperationID])
		if err != nil {
			// evaluator is gone for good; no later case can be judged
			return cli.Exit(err.Error(), exitFatal)
		}
		if result.Match {
			matched++
		} else {
			mismatched++
		}
		record.Result = &result
		if err := emit(out, record); err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
	}
	if err := scanner.Err(); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	rt.log.Info("run complete", "matched", matched, "mismatched", mismatched, "failed", failed)
	if mismatched > 0 || failed > 0 {
		return cli.Exit("", exitMismatch)
	}
	return nil
}

func runChain(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("chain needs exactly one chain file", exitFatal)
	}
	rt, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer rt.close()

	raw, err := os.ReadFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	var chain mcase.ChainCase
	if err := json.Unmarshal(raw, &chain); err != nil {
		return cli.Exit(fmt.Sprintf("parse chain: %v", err), exitFatal)
	}

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()

	var fatalErr error
	allMatch := true
	ctx := c.Context
	_, _, execErr := rt.exec.ExecuteChain(ctx, chain, func(step int, a, b mresponse.ChainStepExecution) bool {
		opID := chain.Steps[step].Request.OperationID
		result, err := rt.comp.Compare(ctx, opID, a.Response, b.Response, rt.rules[opID])
		if err != nil {
			fatalErr = err
			return false
		}
		idx := step
		record := verdictRecord{
			ChainID:     chain.ChainID.String(),
			Step:        &idx,
			OperationID: opID,
			Result:      &result,
		}
		if emitErr := emit(out, record); emitErr != nil {
			fatalErr = emitErr
			return false
		}
		if !result.Match {
			allMatch = false
			return false
		}
		return true
	})
	if fatalErr != nil {
		return cli.Exit(fatalErr.Error(), exitFatal)
	}
	if execErr != nil {
		record := verdictRecord{ChainID: chain.ChainID.String(), OperationID: "", Error: chainError(execErr)}
		if err := emit(out, record); err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
		return cli.Exit("", exitMismatch)
	}
	if !allMatch {
		return cli.Exit("", exitMismatch)
	}
	return nil
}

func firstError(pair executor.PairResult) *executionError {
	for _, outcome := range []executor.TargetOutcome{pair.A, pair.B} {
		if outcome.Err != nil {
			return &executionError{
				Target:  outcome.Err.Target,
				Kind:    string(outcome.Err.Kind),
				Message: outcome.Err.Error(),
			}
		}
	}
	return nil
}

func chainError(err error) *executionError {
	var reqErr *executor.RequestError
	if errors.As(err, &reqErr) {
		return &executionError{Target: reqErr.Target, Kind: string(reqErr.Kind), Message: reqErr.Error()}
	}
	return &executionError{Message: err.Error()}
}
