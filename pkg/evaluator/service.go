package evaluator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"the-dev-tools/apidiff/pkg/idwrap"

	"github.com/goccy/go-json"
)

const (
	DefaultClientTimeout = 5 * time.Second
	DefaultRestartCap    = 3

	// scanner line cap; expressions and bindings stay well under this
	maxLineSize = 8 << 20
)

type ServiceConfig struct {
	// Path and Args launch the evaluator process. The service-side
	// per-expression timeout is appended as a -timeout flag.
	Path string
	Args []string

	// ClientTimeout bounds each round-trip and must be strictly greater
	// than EvalTimeout so a hung service still fails in bounded time.
	ClientTimeout time.Duration
	EvalTimeout   time.Duration

	RestartCap int
	Logger     *slog.Logger
}

func (c *ServiceConfig) withDefaults() ServiceConfig {
	cfg := *c
	if cfg.ClientTimeout == 0 {
		cfg.ClientTimeout = DefaultClientTimeout
	}
	if cfg.EvalTimeout == 0 {
		cfg.EvalTimeout = DefaultEngineTimeout
	}
	if cfg.RestartCap == 0 {
		cfg.RestartCap = DefaultRestartCap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Service is the subprocess evaluator client. One long-lived process serves
// many evaluations; access is serialized. On process death the in-flight
// request is retried once per restart until the restart budget is spent,
// after which every call returns a FatalError.
type Service struct {
	cfg ServiceConfig

	mu       sync.Mutex
	proc     *process
	started  bool
	restarts int
	fatal    error
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
}

func NewService(cfg ServiceConfig) (*Service, error) {
	full := cfg.withDefaults()
	if full.Path == "" {
		return nil, fmt.Errorf("evaluator service path is required")
	}
	if full.ClientTimeout <= full.EvalTimeout {
		return nil, fmt.Errorf("client timeout %s must exceed evaluation timeout %s", full.ClientTimeout, full.EvalTimeout)
	}
	return &Service{cfg: full}, nil
}

// Start launches the process eagerly. EvalBool also starts lazily, so Start
// is optional but lets construction-time failures surface early.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	args := append(append([]string{}, s.cfg.Args...), "-timeout", s.cfg.EvalTimeout.String())
	cmd := exec.Command(s.cfg.Path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("evaluator stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("evaluator stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start evaluator %s: %w", s.cfg.Path, err)
	}

	lines := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			// once the process is torn down nobody reads lines again; the
			// done signal releases the reader instead of leaking it
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	proc := &process{cmd: cmd, stdin: stdin, lines: lines, done: done}

	line, err := s.readLine(ctx, proc)
	if err != nil {
		s.kill(proc)
		return fmt.Errorf("evaluator handshake: %w", err)
	}
	var ready readyFrame
	if err := json.Unmarshal([]byte(line), &ready); err != nil || !ready.Ready {
		s.kill(proc)
		return &ProtocolError{Message: fmt.Sprintf("expected ready frame, got %q", line)}
	}

	s.proc = proc
	s.started = true
	s.cfg.Logger.Debug("evaluator started", "path", s.cfg.Path, "pid", cmd.Process.Pid)
	return nil
}

func (s *Service) readLine(ctx context.Context, proc *process) (string, error) {
	timer := time.NewTimer(s.cfg.ClientTimeout)
	defer timer.Stop()
	select {
	case line, ok := <-proc.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-timer.C:
		return "", fmt.Errorf("timed out after %s", s.cfg.ClientTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Service) kill(proc *process) {
	close(proc.done)
	_ = proc.stdin.Close()
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
	}
	_ = proc.cmd.Wait()
}

func (s *Service) teardownLocked() {
	if s.proc != nil {
		s.kill(s.proc)
		s.proc = nil
	}
}

// consumeRestartLocked accounts one restart against the budget. The first
// start of the service is free.
func (s *Service) consumeRestartLocked(cause error) error {
	s.restarts++
	if s.restarts > s.cfg.RestartCap {
		s.fatal = &FatalError{cause: cause}
		return s.fatal
	}
	s.cfg.Logger.Warn("restarting evaluator",
		"restart", s.restarts, "cap", s.cfg.RestartCap, "cause", cause)
	return nil
}

// EvalBool sends one request and waits for its response. Process death is
// handled by restarting and retrying the same request, one retry per
// restart, until the budget is exhausted.
func (s *Service) EvalBool(ctx context.Context, expr string, data map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fatal != nil {
		return false, s.fatal
	}

	for {
		if s.proc == nil {
			if s.started {
				if err := s.consumeRestartLocked(fmt.Errorf("evaluator process died")); err != nil {
					return false, err
				}
			}
			if err := s.startLocked(ctx); err != nil {
				if !s.started {
					// initial start failure is a setup error, not a crash
					return false, err
				}
				continue
			}
		}

		id := idwrap.NewNow().String()
		payload, err := json.Marshal(evalRequest{ID: id, Expr: expr, Data: data})
		if err != nil {
			return false, &EvalError{Expr: expr, Message: fmt.Sprintf("marshal bindings: %v", err)}
		}
		payload = append(payload, '\n')

		if _, err := s.proc.stdin.Write(payload); err != nil {
			// broken pipe: restart and retry this request
			s.teardownLocked()
			continue
		}

		line, err := s.readLine(ctx, s.proc)
		if err != nil {
			if err == io.EOF {
				s.teardownLocked()
				continue
			}
			// hung or canceled; the process state is unknown, drop it
			s.teardownLocked()
			return false, err
		}

		var resp evalResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			s.teardownLocked()
			return false, &ProtocolError{Message: fmt.Sprintf("malformed response %q", line)}
		}
		if resp.ID != id {
			s.teardownLocked()
			return false, &ProtocolError{Message: fmt.Sprintf("response id %q does not match request id %q", resp.ID, id)}
		}
		if !resp.OK {
			return false, &EvalError{Expr: expr, Message: resp.Error}
		}
		return resp.Result, nil
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

var _ Evaluator = (*Service)(nil)
