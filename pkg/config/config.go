// Package config loads the run configuration from YAML and converts it into
// the concrete settings the executor and evaluator consume.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"the-dev-tools/apidiff/pkg/evaluator"
	"the-dev-tools/apidiff/pkg/executor"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("30s", "1m30s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type TargetSpec struct {
	Name    string             `yaml:"name"`
	BaseURL string             `yaml:"base_url" validate:"required,url"`
	Headers map[string]string  `yaml:"headers"`
	TLS     executor.TLSConfig `yaml:"tls"`
}

type TargetsSpec struct {
	A TargetSpec `yaml:"a" validate:"required"`
	B TargetSpec `yaml:"b" validate:"required"`
}

type ExecutionSpec struct {
	Timeout           Duration            `yaml:"timeout"`
	OperationTimeouts map[string]Duration `yaml:"operation_timeouts"`
	RequestsPerSecond float64             `yaml:"requests_per_second" validate:"gte=0"`
}

// EvaluatorSpec selects the expression evaluator. With a Path the run drives
// an isolated subprocess; without one it falls back to the in-process engine.
type EvaluatorSpec struct {
	Path          string   `yaml:"path"`
	Args          []string `yaml:"args"`
	ClientTimeout Duration `yaml:"client_timeout"`
	EvalTimeout   Duration `yaml:"eval_timeout"`
	RestartCap    int      `yaml:"restart_cap" validate:"gte=0"`
}

type Config struct {
	Targets   TargetsSpec   `yaml:"targets"`
	Execution ExecutionSpec `yaml:"execution"`
	Evaluator EvaluatorSpec `yaml:"evaluator"`

	// Rules is the path to the rule set file. XMLForceList names child
	// element tags decoded as lists even when they appear once.
	Rules        string   `yaml:"rules"`
	XMLForceList []string `yaml:"xml_force_list"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.Targets.A.Name == "" {
		cfg.Targets.A.Name = "a"
	}
	if cfg.Targets.B.Name == "" {
		cfg.Targets.B.Name = "b"
	}
	return &cfg, nil
}

func (c *Config) TargetA() executor.TargetConfig { return targetConfig(c.Targets.A) }
func (c *Config) TargetB() executor.TargetConfig { return targetConfig(c.Targets.B) }

func targetConfig(spec TargetSpec) executor.TargetConfig {
	return executor.TargetConfig{
		Name:    spec.Name,
		BaseURL: spec.BaseURL,
		Headers: spec.Headers,
		TLS:     spec.TLS,
	}
}

func (c *Config) ExecutorOptions(log *slog.Logger) executor.Options {
	opts := executor.Options{
		Timeout:           c.Execution.Timeout.Std(),
		RequestsPerSecond: c.Execution.RequestsPerSecond,
		Logger:            log,
	}
	if len(c.Execution.OperationTimeouts) > 0 {
		opts.OperationTimeouts = make(map[string]time.Duration, len(c.Execution.OperationTimeouts))
		for op, d := range c.Execution.OperationTimeouts {
			opts.OperationTimeouts[op] = d.Std()
		}
	}
	if len(c.XMLForceList) > 0 {
		opts.ForceList = make(map[string]bool, len(c.XMLForceList))
		for _, tag := range c.XMLForceList {
			opts.ForceList[tag] = true
		}
	}
	return opts
}

func (c *Config) ServiceConfig(log *slog.Logger) evaluator.ServiceConfig {
	return evaluator.ServiceConfig{
		Path:          c.Evaluator.Path,
		Args:          c.Evaluator.Args,
		ClientTimeout: c.Evaluator.ClientTimeout.Std(),
		EvalTimeout:   c.Evaluator.EvalTimeout.Std(),
		RestartCap:    c.Evaluator.RestartCap,
		Logger:        log,
	}
}
