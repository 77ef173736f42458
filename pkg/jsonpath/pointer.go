package jsonpath

import (
	"strconv"
	"strings"
)

// ResolvePointer evaluates an RFC 6901 JSON pointer against a decoded
// document. The boolean is false when any step of the pointer is absent;
// a found JSON null returns (nil, true).
func ResolvePointer(doc any, pointer string) (any, bool) {
	if pointer == "" {
		return doc, true
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, false
	}
	node := doc
	for _, token := range strings.Split(pointer[1:], "/") {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		switch v := node.(type) {
		case map[string]any:
			child, ok := v[token]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			node = v[idx]
		default:
			return nil, false
		}
	}
	return node, true
}
