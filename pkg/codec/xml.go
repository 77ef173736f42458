package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// The XML mapping is deliberately minimal. Encoding: maps become elements
// with sorted child order, `@key` entries become attributes, `#text` becomes
// character data, lists become repeated sibling elements, nil becomes an
// empty element. Namespaces are unsupported and dropped. Decoding mirrors
// this: namespace URIs are stripped from tags, attributes map to `@name`
// keys, and a child tag becomes a list when it recurs or is force-listed.

const defaultRootElement = "root"

// EncodeXML serializes a structured value. A single-key map at the top level
// names the root element; anything else is wrapped in <root>.
func EncodeXML(v any) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if obj, ok := v.(map[string]any); ok && len(obj) == 1 {
		for name, child := range obj {
			writeValue(&buf, name, child)
		}
	} else {
		writeValue(&buf, defaultRootElement, v)
	}
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, name string, v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			writeValue(buf, name, item)
		}
		return
	}
	writeElement(buf, name, v)
}

func writeElement(buf *bytes.Buffer, name string, v any) {
	switch val := v.(type) {
	case nil:
		fmt.Fprintf(buf, "<%s/>", name)
	case map[string]any:
		buf.WriteByte('<')
		buf.WriteString(name)
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.HasPrefix(k, "@") {
				fmt.Fprintf(buf, " %s=%q", k[1:], scalarText(val[k]))
			}
		}
		buf.WriteByte('>')
		for _, k := range keys {
			if strings.HasPrefix(k, "@") {
				continue
			}
			if k == "#text" {
				writeEscaped(buf, scalarText(val[k]))
				continue
			}
			writeValue(buf, k, val[k])
		}
		fmt.Fprintf(buf, "</%s>", name)
	default:
		buf.WriteByte('<')
		buf.WriteString(name)
		buf.WriteByte('>')
		writeEscaped(buf, scalarText(val))
		fmt.Fprintf(buf, "</%s>", name)
	}
}

func writeEscaped(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		// integral floats render without the trailing .0
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// DecodeXML parses a document into the structured mapping. The result is a
// single-key map naming the root element.
func DecodeXML(raw []byte, forceList map[string]bool) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("xml document has no root element")
		}
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			value, err := decodeElement(dec, start, forceList)
			if err != nil {
				return nil, err
			}
			return map[string]any{start.Name.Local: value}, nil
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement, forceList map[string]bool) (any, error) {
	node := map[string]any{}
	for _, attr := range start.Attr {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		node["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t, forceList)
			if err != nil {
				return nil, err
			}
			insertChild(node, t.Name.Local, child, forceList)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if len(node) == 0 {
				return trimmed, nil
			}
			if trimmed != "" {
				node["#text"] = trimmed
			}
			return node, nil
		}
	}
}

func insertChild(node map[string]any, name string, child any, forceList map[string]bool) {
	existing, ok := node[name]
	switch {
	case !ok && forceList[name]:
		node[name] = []any{child}
	case !ok:
		node[name] = child
	default:
		if list, isList := existing.([]any); isList {
			node[name] = append(list, child)
		} else {
			node[name] = []any{existing, child}
		}
	}
}
