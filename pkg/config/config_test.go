package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
targets:
  a:
    name: production
    base_url: https://api.example.com
    headers:
      Authorization: Bearer prod-token
  b:
    base_url: https://staging.example.com
    tls:
      insecure_skip_verify: true
execution:
  timeout: 10s
  operation_timeouts:
    slowReport: 2m
  requests_per_second: 5
evaluator:
  path: /usr/local/bin/apidiff-eval
  client_timeout: 6s
  eval_timeout: 2s
  restart_cap: 3
rules: rules.yaml
xml_force_list:
  - item
`

func TestParseConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Targets.A.Name)
	assert.Equal(t, "b", cfg.Targets.B.Name, "unnamed targets get positional names")
	assert.Equal(t, "https://api.example.com", cfg.Targets.A.BaseURL)
	assert.True(t, cfg.Targets.B.TLS.InsecureSkipVerify)
	assert.Equal(t, "rules.yaml", cfg.Rules)

	opts := cfg.ExecutorOptions(nil)
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.Equal(t, 2*time.Minute, opts.OperationTimeouts["slowReport"])
	assert.Equal(t, 5.0, opts.RequestsPerSecond)
	assert.True(t, opts.ForceList["item"])

	svc := cfg.ServiceConfig(nil)
	assert.Equal(t, "/usr/local/bin/apidiff-eval", svc.Path)
	assert.Equal(t, 6*time.Second, svc.ClientTimeout)
	assert.Equal(t, 2*time.Second, svc.EvalTimeout)
	assert.Equal(t, 3, svc.RestartCap)
}

func TestParseConfigRejectsBadURL(t *testing.T) {
	raw := []byte(`
targets:
  a:
    base_url: not a url
  b:
    base_url: https://b.example.com
`)
	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestParseConfigRejectsMissingTarget(t *testing.T) {
	raw := []byte(`
targets:
  a:
    base_url: https://a.example.com
`)
	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	raw := []byte(`
targets:
  a:
    base_url: https://a.example.com
  b:
    base_url: https://b.example.com
execution:
  timeout: soon
`)
	_, err := Parse(raw)
	assert.Error(t, err)
}
