// Package executor dispatches each request case against both targets and
// captures the transport-level outcome. Requests go to target A first, then
// target B; a shared rate limiter gates every dispatch.
package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"the-dev-tools/apidiff/pkg/codec"
	"the-dev-tools/apidiff/pkg/errmap"
	"the-dev-tools/apidiff/pkg/httpclient"
	"the-dev-tools/apidiff/pkg/jsonpath"
	"the-dev-tools/apidiff/pkg/model/mcase"
	"the-dev-tools/apidiff/pkg/model/mresponse"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// TLSConfig narrows the transport-level TLS knobs a target may need.
type TLSConfig struct {
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	CABundle           string   `yaml:"ca_bundle"`
	ClientCert         string   `yaml:"client_cert"`
	ClientKey          string   `yaml:"client_key"`
	Ciphers            []string `yaml:"ciphers"`
}

// TargetConfig describes one side of the pair.
type TargetConfig struct {
	Name    string            `yaml:"name"`
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`
	TLS     TLSConfig         `yaml:"tls"`
}

// Options holds run-wide execution settings.
type Options struct {
	Timeout           time.Duration
	OperationTimeouts map[string]time.Duration
	RequestsPerSecond float64
	ForceList         map[string]bool
	Logger            *slog.Logger
}

const DefaultTimeout = 30 * time.Second

// RequestErrorKind collapses the transport error taxonomy into the three
// classes a verdict reports.
type RequestErrorKind string

const (
	ErrKindTimeout    RequestErrorKind = "timeout"
	ErrKindConnection RequestErrorKind = "connection"
	ErrKindEncoding   RequestErrorKind = "encoding"
)

// RequestError is a dispatch failure against one target.
type RequestError struct {
	Kind   RequestErrorKind
	Target string
	cause  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("target %s: %s: %v", e.Target, e.Kind, e.cause)
}

func (e *RequestError) Unwrap() error { return e.cause }

// TargetOutcome is the per-target result of one dispatch: the rendered
// request that went on the wire for this target, and exactly one of Response
// or Err.
type TargetOutcome struct {
	Target   string
	Request  mcase.RequestCase
	Response mresponse.ResponseCase
	Err      *RequestError
}

func (o TargetOutcome) OK() bool { return o.Err == nil }

// PairResult is one case executed against both targets.
type PairResult struct {
	A TargetOutcome
	B TargetOutcome
}

type target struct {
	cfg    TargetConfig
	client httpclient.HttpClient
}

type Executor struct {
	a, b      target
	limiter   *rate.Limiter
	timeout   time.Duration
	opTimeout map[string]time.Duration
	forceList map[string]bool
	log       *slog.Logger
}

// New builds the executor. TLS misconfiguration, including an unknown cipher
// suite name, fails construction rather than the first dispatch.
func New(a, b TargetConfig, opts Options) (*Executor, error) {
	if a.Name == "" {
		a.Name = "a"
	}
	if b.Name == "" {
		b.Name = "b"
	}
	clientA, err := buildClient(a)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", a.Name, err)
	}
	clientB, err := buildClient(b)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", b.Name, err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		a:         target{cfg: a, client: clientA},
		b:         target{cfg: b, client: clientB},
		limiter:   rate.NewLimiter(limit, 1),
		timeout:   timeout,
		opTimeout: opts.OperationTimeouts,
		forceList: opts.ForceList,
		log:       log,
	}, nil
}

func buildClient(cfg TargetConfig) (*http.Client, error) {
	tlsCfg, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	// deadlines come from per-request contexts, not the client
	return &http.Client{Transport: transport}, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	out := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // operator opt-in

	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s: no certificates found", cfg.CABundle)
		}
		out.RootCAs = pool
	}

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}

	if len(cfg.Ciphers) > 0 {
		ids, err := cipherSuiteIDs(cfg.Ciphers)
		if err != nil {
			return nil, err
		}
		out.CipherSuites = ids
	}
	return out, nil
}

func cipherSuiteIDs(names []string) ([]uint16, error) {
	byName := make(map[string]uint16)
	for _, cs := range tls.CipherSuites() {
		byName[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		byName[cs.Name] = cs.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Execute dispatches one case against A then B. Transport failures are
// captured per target; the returned error covers only run-level conditions
// such as a canceled context while waiting on the rate limiter.
func (e *Executor) Execute(ctx context.Context, rc mcase.RequestCase) (PairResult, error) {
	return e.execute(ctx, rc, nil, nil)
}

func (e *Executor) execute(ctx context.Context, rc mcase.RequestCase, varsA, varsB map[string]any) (PairResult, error) {
	renderedA := RenderCase(rc, varsA)
	renderedB := RenderCase(rc, varsB)

	outA, err := e.dispatch(ctx, e.a, renderedA)
	if err != nil {
		return PairResult{}, err
	}
	outB, err := e.dispatch(ctx, e.b, renderedB)
	if err != nil {
		return PairResult{}, err
	}
	return PairResult{A: outA, B: outB}, nil
}

func (e *Executor) dispatch(ctx context.Context, t target, rc mcase.RequestCase) (TargetOutcome, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return TargetOutcome{}, err
	}

	timeout := e.timeout
	if opTimeout, ok := e.opTimeout[rc.OperationID]; ok {
		timeout = opTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := TargetOutcome{Target: t.cfg.Name, Request: rc}
	req, err := buildRequest(reqCtx, t.cfg, rc)
	if err != nil {
		out.Err = e.requestError(t.cfg.Name, rc, err)
		return out, nil
	}

	e.log.Debug("dispatch request",
		"target", t.cfg.Name,
		"method", req.Method,
		"url", req.URL.String(),
		"headers", redactHeaders(req.Header),
	)

	resp, err := httpclient.DoAndRead(t.client, req)
	if err != nil {
		out.Err = e.requestError(t.cfg.Name, rc, err)
		return out, nil
	}

	out.Response = mresponse.ResponseCase{
		Status:      resp.StatusCode,
		Headers:     httpclient.LowercaseHeaders(resp.Headers),
		Body:        codec.DecodeResponse(resp.Headers.Get("Content-Type"), resp.Body, e.forceList),
		DurationMS:  resp.Elapsed.Milliseconds(),
		HTTPVersion: resp.Proto,
	}
	e.log.Debug("response captured",
		"target", t.cfg.Name,
		"operation", rc.OperationID,
		"status", out.Response.Status,
		"duration_ms", out.Response.DurationMS,
	)
	return out, nil
}

func (e *Executor) requestError(targetName string, rc mcase.RequestCase, err error) *RequestError {
	mapped := errmap.MapRequestError(rc.Method, rc.Path, err)
	kind := classifyKind(errmap.CodeOf(mapped))
	e.log.Warn("request failed",
		"target", targetName,
		"operation", rc.OperationID,
		"kind", string(kind),
		"error", mapped,
	)
	return &RequestError{Kind: kind, Target: targetName, cause: mapped}
}

func classifyKind(code errmap.Code) RequestErrorKind {
	switch code {
	case errmap.CodeTimeout, errmap.CodeCanceled:
		return ErrKindTimeout
	case errmap.CodeEncoding, errmap.CodeInvalidURL, errmap.CodeUnsupportedScheme:
		return ErrKindEncoding
	default:
		return ErrKindConnection
	}
}

func buildRequest(ctx context.Context, cfg TargetConfig, rc mcase.RequestCase) (*http.Request, error) {
	body, err := codec.EncodeBody(rc.Body)
	if err != nil {
		return nil, errmap.New(errmap.CodeEncoding, "", err)
	}

	fullURL := strings.TrimRight(cfg.BaseURL, "/") + rc.Path
	if len(rc.Query) > 0 {
		q := url.Values(rc.Query)
		fullURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, rc.Method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}
	for name, values := range rc.Headers {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if rc.Body.Kind != mcase.BodyKindNone && rc.Body.MediaType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", rc.Body.MediaType)
	}
	for name, value := range rc.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}

func redactHeaders(h http.Header) []string {
	out := make([]string, 0, len(h))
	for name, values := range h {
		if strings.EqualFold(name, "Authorization") || strings.EqualFold(name, "Proxy-Authorization") {
			out = append(out, name+": <redacted>")
			continue
		}
		out = append(out, name+": "+strings.Join(values, ", "))
	}
	sort.Strings(out)
	return out
}

// StepFunc observes one executed chain step on both targets. Returning false
// halts the chain; steps already executed stay recorded.
type StepFunc func(step int, a, b mresponse.ChainStepExecution) bool

// ExecuteChain runs a multi-step case, threading extracted variables through
// each target's own request stream. A transport failure or a missing link
// field halts the chain and returns alongside the steps recorded so far.
func (e *Executor) ExecuteChain(ctx context.Context, chain mcase.ChainCase, onStep StepFunc) (mresponse.ChainExecution, mresponse.ChainExecution, error) {
	execA := mresponse.ChainExecution{Target: e.a.cfg.Name}
	execB := mresponse.ChainExecution{Target: e.b.cfg.Name}
	varsA := map[string]any{}
	varsB := map[string]any{}

	for i, step := range chain.Steps {
		pair, err := e.execute(ctx, step.Request, varsA, varsB)
		if err != nil {
			return execA, execB, err
		}
		if pair.A.Err != nil {
			return execA, execB, pair.A.Err
		}
		if pair.B.Err != nil {
			return execA, execB, pair.B.Err
		}

		extractedA, err := ExtractLinks(step.Extract, pair.A.Response)
		if err != nil {
			return execA, execB, fmt.Errorf("chain %s step %d target %s: %w", chain.ChainID, i, e.a.cfg.Name, err)
		}
		extractedB, err := ExtractLinks(step.Extract, pair.B.Response)
		if err != nil {
			return execA, execB, fmt.Errorf("chain %s step %d target %s: %w", chain.ChainID, i, e.b.cfg.Name, err)
		}
		for k, v := range extractedA {
			varsA[k] = v
		}
		for k, v := range extractedB {
			varsB[k] = v
		}

		stepA := mresponse.ChainStepExecution{Request: pair.A.Request, Response: pair.A.Response, Variables: extractedA}
		stepB := mresponse.ChainStepExecution{Request: pair.B.Request, Response: pair.B.Response, Variables: extractedB}
		execA.Steps = append(execA.Steps, stepA)
		execB.Steps = append(execB.Steps, stepB)

		if onStep != nil && !onStep(i, stepA, stepB) {
			break
		}
	}
	return execA, execB, nil
}

// ExtractLinks pulls declared link fields out of a captured response. A
// declared field that cannot be resolved is an error: later steps depend on
// it and running them with a hole would compare garbage.
func ExtractLinks(fields []mcase.LinkField, resp mresponse.ResponseCase) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		switch field.Source {
		case mcase.LinkSourceHeader:
			values := resp.Headers[strings.ToLower(field.Header)]
			if field.Occurrence < 0 || field.Occurrence >= len(values) {
				return nil, fmt.Errorf("link field %q: header %q occurrence %d not present", field.Name, field.Header, field.Occurrence)
			}
			out[field.Name] = values[field.Occurrence]
		default:
			if resp.Body.Kind != mresponse.BodyKindStructured {
				return nil, fmt.Errorf("link field %q: response body is not structured", field.Name)
			}
			v, found := jsonpath.ResolvePointer(resp.Body.Structured, field.Pointer)
			if !found {
				return nil, fmt.Errorf("link field %q: pointer %q not found", field.Name, field.Pointer)
			}
			out[field.Name] = v
		}
	}
	return out, nil
}

// RenderCase produces the concrete request for one target: the path template
// and string values get {name} substitution from path params plus chain
// variables, longest name first so overlapping names cannot clip each other.
func RenderCase(rc mcase.RequestCase, vars map[string]any) mcase.RequestCase {
	subs := buildSubstitutions(rc, vars)
	out := rc

	tpl := rc.PathTemplate
	if tpl == "" {
		tpl = rc.Path
	}
	out.Path = encodeControlBytes(renderTemplate(tpl, subs))

	if len(rc.Query) > 0 {
		out.Query = renderMultimap(rc.Query, subs)
	}
	if len(rc.Headers) > 0 {
		out.Headers = renderMultimap(rc.Headers, subs)
	}
	if rc.Body.Kind == mcase.BodyKindStructured {
		out.Body.Structured = renderValue(rc.Body.Structured, subs)
	}
	return out
}

type substitution struct {
	name  string
	value string
}

func buildSubstitutions(rc mcase.RequestCase, vars map[string]any) []substitution {
	merged := make(map[string]string, len(vars)+len(rc.PathParams))
	for name, v := range vars {
		merged[name] = stringifyVar(v)
	}
	// case-declared path params win over chain variables
	for name, values := range rc.PathParams {
		if len(values) > 0 {
			merged[name] = values[0]
		}
	}
	subs := make([]substitution, 0, len(merged))
	for name, value := range merged {
		subs = append(subs, substitution{name: name, value: value})
	}
	sort.Slice(subs, func(i, j int) bool {
		if len(subs[i].name) != len(subs[j].name) {
			return len(subs[i].name) > len(subs[j].name)
		}
		return subs[i].name < subs[j].name
	})
	return subs
}

func renderTemplate(tpl string, subs []substitution) string {
	if len(subs) == 0 || !strings.Contains(tpl, "{") {
		return tpl
	}
	out := tpl
	for _, s := range subs {
		out = strings.ReplaceAll(out, "{"+s.name+"}", s.value)
	}
	return out
}

func renderMultimap(m map[string][]string, subs []substitution) map[string][]string {
	out := make(map[string][]string, len(m))
	for name, values := range m {
		rendered := make([]string, len(values))
		for i, v := range values {
			rendered[i] = renderTemplate(v, subs)
		}
		out[name] = rendered
	}
	return out
}

func renderValue(v any, subs []substitution) any {
	switch val := v.(type) {
	case string:
		return renderTemplate(val, subs)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = renderValue(child, subs)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = renderValue(child, subs)
		}
		return out
	default:
		return v
	}
}

func stringifyVar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		// list-valued variables substitute as their first element
		if len(val) == 0 {
			return ""
		}
		return stringifyVar(val[0])
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// encodeControlBytes percent-encodes ASCII control bytes a substituted
// variable may have smuggled into the path. Everything else passes through
// untouched so pre-encoded paths stay stable.
func encodeControlBytes(path string) string {
	needs := false
	for i := 0; i < len(path); i++ {
		if path[i] < 0x20 || path[i] == 0x7f {
			needs = true
			break
		}
	}
	if !needs {
		return path
	}
	var b strings.Builder
	b.Grow(len(path) + 8)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c < 0x20 || c == 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
