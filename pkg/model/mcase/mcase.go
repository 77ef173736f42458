package mcase

import (
	"the-dev-tools/apidiff/pkg/idwrap"
)

type BodyKind int8

const (
	BodyKindNone BodyKind = iota
	BodyKindStructured
	BodyKindText
	BodyKindBytes
)

// Body is the request body union. Exactly one of Structured, Text, Bytes is
// meaningful, selected by Kind. Bytes round-trips through JSON as base64.
type Body struct {
	Kind       BodyKind `json:"kind"`
	Structured any      `json:"structured,omitempty"`
	Text       string   `json:"text,omitempty"`
	Bytes      []byte   `json:"bytes_base64,omitempty"`
	MediaType  string   `json:"media_type,omitempty"`
}

// RequestCase is an immutable request template. The executor renders Path
// from PathTemplate before transport; both are kept so mismatch artifacts
// can be replayed and re-rendered.
type RequestCase struct {
	CaseID      idwrap.IDWrap       `json:"case_id"`
	OperationID string              `json:"operation_id"`
	Method      string              `json:"method"`
	PathTemplate string             `json:"path_template"`
	Path        string              `json:"path"`
	PathParams  map[string][]string `json:"path_params,omitempty"`
	Query       map[string][]string `json:"query,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Cookies     map[string]string   `json:"cookies,omitempty"`
	Body        Body                `json:"body"`
}

type LinkSource int8

const (
	LinkSourceBody LinkSource = iota
	LinkSourceHeader
)

// LinkField declares a response location a chain step must capture into the
// per-target variable map. Body locations are RFC 6901 JSON pointers; header
// locations name a header plus an occurrence index into its value list.
type LinkField struct {
	Name       string     `json:"name"`
	Source     LinkSource `json:"source"`
	Pointer    string     `json:"pointer,omitempty"`
	Header     string     `json:"header,omitempty"`
	Occurrence int        `json:"occurrence,omitempty"`
}

type ChainStep struct {
	Request RequestCase `json:"request"`
	Extract []LinkField `json:"extract,omitempty"`
}

type ChainCase struct {
	ChainID idwrap.IDWrap `json:"chain_id"`
	Steps   []ChainStep   `json:"steps"`
}
