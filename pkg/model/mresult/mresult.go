package mresult

import "fmt"

type MismatchType string

const (
	MismatchNone       MismatchType = ""
	MismatchStatusCode MismatchType = "status_code"
	MismatchHeaders    MismatchType = "headers"
	MismatchBody       MismatchType = "body"
)

// Component names inside a ComparisonResult. The binary body is a distinct
// component but reports under MismatchBody.
const (
	ComponentStatusCode = "status_code"
	ComponentHeaders    = "headers"
	ComponentBody       = "body"
	ComponentBinaryBody = "binary_body"
)

// FieldDifference is one divergence between the two targets. Rule describes
// what was enforced ("presence:parity", "exact_match", "error: ...",
// "wildcard_count_mismatch", "jsonpath_error", "body_presence",
// "schema:extra_field").
type FieldDifference struct {
	Path   string `json:"path"`
	ValueA any    `json:"value_a"`
	ValueB any    `json:"value_b"`
	Rule   string `json:"rule"`
}

type ComponentResult struct {
	Name        string            `json:"name"`
	Match       bool              `json:"match"`
	Differences []FieldDifference `json:"differences,omitempty"`
}

// ComparisonResult is the verdict for one case. Match is true iff every
// evaluated component matched; MismatchType names the first failing phase.
type ComparisonResult struct {
	Match        bool              `json:"match"`
	MismatchType MismatchType      `json:"mismatch_type,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Components   []ComponentResult `json:"components"`
}

// Summarize renders the one-line summary for a failed component: the single
// offending path when there is exactly one difference, a count otherwise.
func Summarize(component string, diffs []FieldDifference) string {
	switch len(diffs) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s: %s", component, diffs[0].Path)
	default:
		return fmt.Sprintf("%s: %d differences", component, len(diffs))
	}
}
