// Package jsonpath implements the path subset the comparator needs: child
// access by name or index, `[*]`/`.*` wildcards, and `..` recursive descent.
// Traversal order is fixed so a reported match index is stable between runs:
// array elements in document order, object keys in sorted order. Matches are
// never re-sorted after collection.
package jsonpath

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type segmentKind int8

const (
	segKey segmentKind = iota
	segIndex
	segWildcard
	segRecursive
)

type segment struct {
	kind segmentKind
	key  string
	idx  int

	// recursive target: key name, or "" for every child
	recKey string
}

type Path struct {
	raw  string
	segs []segment
}

func (p *Path) String() string { return p.raw }

// HasWildcard reports whether resolution can yield more than one match.
func (p *Path) HasWildcard() bool {
	for _, s := range p.segs {
		if s.kind == segWildcard || s.kind == segRecursive {
			return true
		}
	}
	return false
}

// Compiled paths are cached by literal path string; the cache is append-only.
var cache sync.Map // map[string]*Path

func Compile(raw string) (*Path, error) {
	if cached, ok := cache.Load(raw); ok {
		return cached.(*Path), nil
	}
	p, err := parse(raw)
	if err != nil {
		return nil, err
	}
	cache.Store(raw, p)
	return p, nil
}

func parse(raw string) (*Path, error) {
	if !strings.HasPrefix(raw, "$") {
		return nil, fmt.Errorf("path %q must start with $", raw)
	}
	rest := raw[1:]
	var segs []segment
	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest, ".."):
			rest = rest[2:]
			switch {
			case strings.HasPrefix(rest, "*"):
				segs = append(segs, segment{kind: segRecursive})
				rest = rest[1:]
			default:
				name, remainder, err := parseName(rest, raw)
				if err != nil {
					return nil, err
				}
				segs = append(segs, segment{kind: segRecursive, recKey: name})
				rest = remainder
			}
		case strings.HasPrefix(rest, "."):
			rest = rest[1:]
			if strings.HasPrefix(rest, "*") {
				segs = append(segs, segment{kind: segWildcard})
				rest = rest[1:]
				continue
			}
			name, remainder, err := parseName(rest, raw)
			if err != nil {
				return nil, err
			}
			segs = append(segs, segment{kind: segKey, key: name})
			rest = remainder
		case strings.HasPrefix(rest, "["):
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated bracket", raw)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			seg, err := parseBracket(inner, raw)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		default:
			return nil, fmt.Errorf("path %q: unexpected %q", raw, rest)
		}
	}
	return &Path{raw: raw, segs: segs}, nil
}

func parseName(rest, raw string) (string, string, error) {
	i := 0
	for i < len(rest) && isNameRune(rest[i]) {
		i++
	}
	if i == 0 {
		return "", "", fmt.Errorf("path %q: expected name", raw)
	}
	return rest[:i], rest[i:], nil
}

func isNameRune(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func parseBracket(inner, raw string) (segment, error) {
	switch {
	case inner == "*":
		return segment{kind: segWildcard}, nil
	case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"'):
		quoteChar := inner[0]
		if inner[len(inner)-1] != quoteChar {
			return segment{}, fmt.Errorf("path %q: unterminated quote", raw)
		}
		return segment{kind: segKey, key: inner[1 : len(inner)-1]}, nil
	default:
		idx, err := strconv.Atoi(inner)
		if err != nil || idx < 0 {
			return segment{}, fmt.Errorf("path %q: invalid index %q", raw, inner)
		}
		return segment{kind: segIndex, idx: idx}, nil
	}
}

// Match is one resolved location: the concretized (de-wildcarded) path and
// the value found there.
type Match struct {
	Path  string
	Value any
}

// Resolve walks the document and returns every match in traversal order.
// An empty slice means the path resolved to nothing on this document.
func (p *Path) Resolve(doc any) []Match {
	current := []Match{{Path: "$", Value: doc}}
	for _, seg := range p.segs {
		var next []Match
		for _, m := range current {
			next = appendSegmentMatches(next, m, seg)
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

func appendSegmentMatches(out []Match, m Match, seg segment) []Match {
	switch seg.kind {
	case segKey:
		if obj, ok := m.Value.(map[string]any); ok {
			if v, ok := obj[seg.key]; ok {
				out = append(out, Match{Path: m.Path + childKey(seg.key), Value: v})
			}
		}
	case segIndex:
		if arr, ok := m.Value.([]any); ok && seg.idx < len(arr) {
			out = append(out, Match{Path: fmt.Sprintf("%s[%d]", m.Path, seg.idx), Value: arr[seg.idx]})
		}
	case segWildcard:
		out = appendChildren(out, m)
	case segRecursive:
		out = appendRecursive(out, m, seg.recKey)
	}
	return out
}

func appendChildren(out []Match, m Match) []Match {
	switch node := m.Value.(type) {
	case []any:
		for i, v := range node {
			out = append(out, Match{Path: fmt.Sprintf("%s[%d]", m.Path, i), Value: v})
		}
	case map[string]any:
		for _, k := range sortedKeys(node) {
			out = append(out, Match{Path: m.Path + childKey(k), Value: node[k]})
		}
	}
	return out
}

// appendRecursive visits the node and every descendant, self before
// children, matching key (or every child when key is empty) at each level.
func appendRecursive(out []Match, m Match, key string) []Match {
	if key == "" {
		out = appendChildren(out, m)
	} else if obj, ok := m.Value.(map[string]any); ok {
		if v, ok := obj[key]; ok {
			out = append(out, Match{Path: m.Path + childKey(key), Value: v})
		}
	}
	switch node := m.Value.(type) {
	case []any:
		for i, v := range node {
			out = appendRecursive(out, Match{Path: fmt.Sprintf("%s[%d]", m.Path, i), Value: v}, key)
		}
	case map[string]any:
		for _, k := range sortedKeys(node) {
			out = appendRecursive(out, Match{Path: m.Path + childKey(k), Value: node[k]}, key)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func childKey(k string) string {
	for i := 0; i < len(k); i++ {
		if !isNameRune(k[i]) {
			return "['" + k + "']"
		}
	}
	return "." + k
}
