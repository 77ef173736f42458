// Package compare renders the match/mismatch verdict between two captured
// responses under an operation's rule set. Comparison is three-phase and
// short-circuiting: status code, then headers, then body (structured and
// binary). A failure in an earlier phase skips all later phases.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"the-dev-tools/apidiff/pkg/comparelib"
	"the-dev-tools/apidiff/pkg/evaluator"
	"the-dev-tools/apidiff/pkg/jsonpath"
	"the-dev-tools/apidiff/pkg/model/mresponse"
	"the-dev-tools/apidiff/pkg/model/mresult"
	"the-dev-tools/apidiff/pkg/model/mrules"
)

// NotFound marks an absent value in a reported difference. Distinct from a
// JSON null, which reports as nil.
const NotFound = "<absent>"

// SchemaAuthority reports response fields absent from the declared schema
// for an operation and status. Consumed as an optional collaborator; its
// findings fold into the body component.
type SchemaAuthority interface {
	ExtraFields(ctx context.Context, operationID string, status int, body any) ([]string, error)
}

type Comparator struct {
	eval   evaluator.Evaluator
	lib    comparelib.Library
	schema SchemaAuthority
	log    *slog.Logger
}

type Option func(*Comparator)

func WithSchemaAuthority(sa SchemaAuthority) Option {
	return func(c *Comparator) { c.schema = sa }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Comparator) { c.log = log }
}

func New(eval evaluator.Evaluator, lib comparelib.Library, opts ...Option) *Comparator {
	c := &Comparator{eval: eval, lib: lib, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare renders the verdict for one operation. Per-field failures (bad
// rules, bad paths, evaluator errors) become error-marked differences; the
// only returned error is the evaluator's fatal unavailable condition.
func (c *Comparator) Compare(ctx context.Context, operationID string, a, b mresponse.ResponseCase, rules mrules.OperationRules) (mresult.ComparisonResult, error) {
	status, err := c.compareStatus(ctx, a, b, rules.StatusCode)
	if err != nil {
		return mresult.ComparisonResult{}, err
	}
	if !status.Match {
		return verdict(mresult.MismatchStatusCode, status), nil
	}

	headers, err := c.compareHeaders(ctx, a, b, rules.Headers)
	if err != nil {
		return mresult.ComparisonResult{}, err
	}
	if !headers.Match {
		return verdict(mresult.MismatchHeaders, status, headers), nil
	}

	body, err := c.compareBody(ctx, operationID, a, b, rules.Body)
	if err != nil {
		return mresult.ComparisonResult{}, err
	}
	binary, err := c.compareBinary(ctx, a, b, rules.Body.Binary)
	if err != nil {
		return mresult.ComparisonResult{}, err
	}
	if !body.Match {
		return verdict(mresult.MismatchBody, status, headers, body, binary), nil
	}
	if !binary.Match {
		return verdict(mresult.MismatchBody, status, headers, body, binary), nil
	}

	result := verdict(mresult.MismatchNone, status, headers, body, binary)
	c.log.Debug("responses match", "operation", operationID, "status", a.Status)
	return result, nil
}

func verdict(mismatch mresult.MismatchType, components ...mresult.ComponentResult) mresult.ComparisonResult {
	result := mresult.ComparisonResult{Match: mismatch == mresult.MismatchNone, Components: components}
	if result.Match {
		return result
	}
	result.MismatchType = mismatch
	for _, comp := range components {
		if !comp.Match {
			result.Summary = mresult.Summarize(comp.Name, comp.Differences)
			break
		}
	}
	return result
}

func component(name string, diffs []mresult.FieldDifference) mresult.ComponentResult {
	return mresult.ComponentResult{Name: name, Match: len(diffs) == 0, Differences: diffs}
}

func (c *Comparator) compareStatus(ctx context.Context, a, b mresponse.ResponseCase, rule *mrules.FieldRule) (mresult.ComponentResult, error) {
	var diffs []mresult.FieldDifference
	if rule == nil {
		if a.Status != b.Status {
			diffs = append(diffs, mresult.FieldDifference{
				Path: "status_code", ValueA: a.Status, ValueB: b.Status, Rule: "equal",
			})
		}
		return component(mresult.ComponentStatusCode, diffs), nil
	}

	// status codes are always present on both sides; only the value rule runs
	err := c.compareValues(ctx, "status_code", *rule, a.Status, b.Status, &diffs)
	if err != nil {
		return mresult.ComponentResult{}, err
	}
	return component(mresult.ComponentStatusCode, diffs), nil
}

func (c *Comparator) compareHeaders(ctx context.Context, a, b mresponse.ResponseCase, rules map[string]mrules.FieldRule) (mresult.ComponentResult, error) {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var diffs []mresult.FieldDifference
	for _, name := range names {
		rule := rules[name]
		lower := strings.ToLower(name)

		// multi-value headers compare by first value only
		va, aFound := a.HeaderFirst(lower)
		vb, bFound := b.HeaderFirst(lower)

		doCompare, failRule := evalPresence(rule.EffectivePresence(), aFound, bFound)
		if failRule != "" {
			diffs = append(diffs, mresult.FieldDifference{
				Path:   lower,
				ValueA: presenceValue(va, aFound),
				ValueB: presenceValue(vb, bFound),
				Rule:   failRule,
			})
			continue
		}
		if !doCompare {
			continue
		}
		if err := c.compareValues(ctx, lower, rule, va, vb, &diffs); err != nil {
			return mresult.ComponentResult{}, err
		}
	}
	return component(mresult.ComponentHeaders, diffs), nil
}

func (c *Comparator) compareBody(ctx context.Context, operationID string, a, b mresponse.ResponseCase, rules mrules.BodyRules) (mresult.ComponentResult, error) {
	aStructured := a.Body.Kind == mresponse.BodyKindStructured
	bStructured := b.Body.Kind == mresponse.BodyKindStructured
	aNone := a.Body.Kind == mresponse.BodyKindNone
	bNone := b.Body.Kind == mresponse.BodyKindNone

	// a JSON-capable body on one side and nothing on the other is itself the
	// divergence; field rules would only obscure it
	if (aStructured && bNone) || (bStructured && aNone) {
		return component(mresult.ComponentBody, []mresult.FieldDifference{{
			Path:   "$",
			ValueA: bodyKindLabel(a.Body.Kind),
			ValueB: bodyKindLabel(b.Body.Kind),
			Rule:   "body_presence",
		}}), nil
	}

	paths := make([]string, 0, len(rules.FieldRules))
	for path := range rules.FieldRules {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var diffs []mresult.FieldDifference
	for _, path := range paths {
		rule := rules.FieldRules[path]
		if err := c.compareFieldRule(ctx, path, rule, a.Body, b.Body, &diffs); err != nil {
			return mresult.ComponentResult{}, err
		}
	}

	if c.schema != nil {
		c.appendSchemaViolations(ctx, operationID, a, b, &diffs)
	}

	return component(mresult.ComponentBody, diffs), nil
}

func (c *Comparator) compareFieldRule(ctx context.Context, path string, rule mrules.FieldRule, a, b mresponse.Body, diffs *[]mresult.FieldDifference) error {
	compiled, err := jsonpath.Compile(path)
	if err != nil {
		*diffs = append(*diffs, mresult.FieldDifference{
			Path: path, Rule: "jsonpath_error: " + err.Error(),
		})
		return nil
	}

	matchesA := resolveBody(compiled, a)
	matchesB := resolveBody(compiled, b)

	if compiled.HasWildcard() {
		return c.compareWildcard(ctx, path, rule, matchesA, matchesB, diffs)
	}

	aFound := len(matchesA) > 0
	bFound := len(matchesB) > 0
	doCompare, failRule := evalPresence(rule.EffectivePresence(), aFound, bFound)
	if failRule != "" {
		*diffs = append(*diffs, mresult.FieldDifference{
			Path:   path,
			ValueA: matchValue(matchesA),
			ValueB: matchValue(matchesB),
			Rule:   failRule,
		})
		return nil
	}
	if !doCompare {
		return nil
	}
	return c.compareValues(ctx, path, rule, matchesA[0].Value, matchesB[0].Value, diffs)
}

// compareWildcard pairs matches by index in traversal order. Unequal counts
// are one difference, not one per element.
func (c *Comparator) compareWildcard(ctx context.Context, path string, rule mrules.FieldRule, matchesA, matchesB []jsonpath.Match, diffs *[]mresult.FieldDifference) error {
	aFound := len(matchesA) > 0
	bFound := len(matchesB) > 0
	doCompare, failRule := evalPresence(rule.EffectivePresence(), aFound, bFound)
	if failRule != "" {
		*diffs = append(*diffs, mresult.FieldDifference{
			Path:   path,
			ValueA: len(matchesA),
			ValueB: len(matchesB),
			Rule:   failRule,
		})
		return nil
	}
	if !doCompare {
		return nil
	}

	if len(matchesA) != len(matchesB) {
		*diffs = append(*diffs, mresult.FieldDifference{
			Path:   path,
			ValueA: len(matchesA),
			ValueB: len(matchesB),
			Rule:   "wildcard_count_mismatch",
		})
		return nil
	}

	for i := range matchesA {
		if err := c.compareValues(ctx, matchesA[i].Path, rule, matchesA[i].Value, matchesB[i].Value, diffs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Comparator) appendSchemaViolations(ctx context.Context, operationID string, a, b mresponse.ResponseCase, diffs *[]mresult.FieldDifference) {
	type side struct {
		label string
		resp  mresponse.ResponseCase
	}
	for _, s := range []side{{"a", a}, {"b", b}} {
		if s.resp.Body.Kind != mresponse.BodyKindStructured {
			continue
		}
		violations, err := c.schema.ExtraFields(ctx, operationID, s.resp.Status, s.resp.Body.Structured)
		if err != nil {
			*diffs = append(*diffs, mresult.FieldDifference{
				Path: "$", Rule: fmt.Sprintf("error: schema authority: %v", err),
			})
			continue
		}
		for _, path := range violations {
			diff := mresult.FieldDifference{Path: path, Rule: "schema:extra_field"}
			if s.label == "a" {
				diff.ValueA = "present"
			} else {
				diff.ValueB = "present"
			}
			*diffs = append(*diffs, diff)
		}
	}
}

// compareBinary enforces the optional rule over the base64-encoded raw body.
// Presence is parity only (validated at load); an empty base64 string is a
// present-but-empty body, distinct from no body at all.
func (c *Comparator) compareBinary(ctx context.Context, a, b mresponse.ResponseCase, rule *mrules.FieldRule) (mresult.ComponentResult, error) {
	if rule == nil {
		return component(mresult.ComponentBinaryBody, nil), nil
	}

	aFound := a.Body.Kind == mresponse.BodyKindBinary
	bFound := b.Body.Kind == mresponse.BodyKindBinary

	var diffs []mresult.FieldDifference
	doCompare, failRule := evalPresence(mrules.PresenceParity, aFound, bFound)
	if failRule != "" {
		diffs = append(diffs, mresult.FieldDifference{
			Path:   "body_base64",
			ValueA: presenceValue(a.Body.Base64, aFound),
			ValueB: presenceValue(b.Body.Base64, bFound),
			Rule:   failRule,
		})
		return component(mresult.ComponentBinaryBody, diffs), nil
	}
	if doCompare {
		if err := c.compareValues(ctx, "body_base64", *rule, a.Body.Base64, b.Body.Base64, &diffs); err != nil {
			return mresult.ComponentResult{}, err
		}
	}
	return component(mresult.ComponentBinaryBody, diffs), nil
}

// compareValues runs the rule's comparison over one pair of present values.
// Rule resolution failures and evaluator failures are captured as error
// differences; only the evaluator's fatal condition propagates.
func (c *Comparator) compareValues(ctx context.Context, path string, rule mrules.FieldRule, va, vb any, diffs *[]mresult.FieldDifference) error {
	expr, label, skip, err := c.resolveRule(rule)
	if err != nil {
		*diffs = append(*diffs, mresult.FieldDifference{
			Path: path, ValueA: va, ValueB: vb, Rule: "error: " + err.Error(),
		})
		return nil
	}
	if skip {
		return nil
	}

	ok, err := c.eval.EvalBool(ctx, expr, map[string]any{"a": va, "b": vb})
	if err != nil {
		if evaluator.IsFatal(err) {
			return err
		}
		*diffs = append(*diffs, mresult.FieldDifference{
			Path: path, ValueA: va, ValueB: vb, Rule: "error: " + err.Error(),
		})
		return nil
	}
	if !ok {
		*diffs = append(*diffs, mresult.FieldDifference{
			Path: path, ValueA: va, ValueB: vb, Rule: label,
		})
	}
	return nil
}

func (c *Comparator) resolveRule(rule mrules.FieldRule) (expr, label string, skip bool, err error) {
	switch rule.Kind() {
	case mrules.ComparisonPredefined:
		expanded, err := c.lib.Expand(rule.Predefined, rule.Params)
		if err != nil {
			return "", "", false, err
		}
		return expanded, rule.Predefined, false, nil
	case mrules.ComparisonCustom:
		return rule.Expression, "expr: " + rule.Expression, false, nil
	default:
		return "", "", true, nil
	}
}

// evalPresence applies the presence policy before any value comparison.
// doCompare is true only when both sides are present; failRule names the
// violated mode.
func evalPresence(mode mrules.Presence, aFound, bFound bool) (doCompare bool, failRule string) {
	switch mode {
	case mrules.PresenceRequired:
		if aFound && bFound {
			return true, ""
		}
		return false, "presence:required"
	case mrules.PresenceForbidden:
		if !aFound && !bFound {
			return false, ""
		}
		return false, "presence:forbidden"
	case mrules.PresenceOptional:
		if aFound && bFound {
			return true, ""
		}
		return false, ""
	default: // parity
		if aFound != bFound {
			return false, "presence:parity"
		}
		return aFound && bFound, ""
	}
}

func presenceValue(v string, found bool) any {
	if !found {
		return NotFound
	}
	return v
}

func matchValue(matches []jsonpath.Match) any {
	if len(matches) == 0 {
		return NotFound
	}
	return matches[0].Value
}

func resolveBody(path *jsonpath.Path, body mresponse.Body) []jsonpath.Match {
	if body.Kind != mresponse.BodyKindStructured {
		return nil
	}
	return path.Resolve(body.Structured)
}

func bodyKindLabel(kind mresponse.BodyKind) string {
	switch kind {
	case mresponse.BodyKindStructured:
		return "structured"
	case mresponse.BodyKindText:
		return "text"
	case mresponse.BodyKindBinary:
		return "binary"
	default:
		return "none"
	}
}
