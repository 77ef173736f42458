package mresponse

import "the-dev-tools/apidiff/pkg/model/mcase"

type BodyKind int8

const (
	BodyKindNone BodyKind = iota
	BodyKindStructured
	BodyKindText
	BodyKindBinary
)

// Body is the captured response body. A binary body keeps its base64 form;
// an empty Base64 string is a present-but-empty body, distinct from
// BodyKindNone.
type Body struct {
	Kind       BodyKind `json:"kind"`
	Structured any      `json:"structured,omitempty"`
	Text       string   `json:"text,omitempty"`
	Base64     string   `json:"base64,omitempty"`
}

// ResponseCase is an immutable captured response. Header keys are lowercase.
type ResponseCase struct {
	Status      int                 `json:"status"`
	Headers     map[string][]string `json:"headers"`
	Body        Body                `json:"body"`
	DurationMS  int64               `json:"duration_ms"`
	HTTPVersion string              `json:"http_version"`
}

// HeaderFirst returns the first value of a header by its lowercase name.
func (r ResponseCase) HeaderFirst(name string) (string, bool) {
	vals, ok := r.Headers[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// ChainStepExecution records one executed step for one target: the rendered
// request actually sent, the response received, and the variables extracted
// from it.
type ChainStepExecution struct {
	Request   mcase.RequestCase `json:"request"`
	Response  ResponseCase      `json:"response"`
	Variables map[string]any    `json:"variables,omitempty"`
}

type ChainExecution struct {
	Target string               `json:"target"`
	Steps  []ChainStepExecution `json:"steps"`
}
