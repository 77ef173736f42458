// Package codec renders request bodies and decodes response bodies by
// content type. JSON and XML map to structured values; text/* stays text;
// everything else is captured as base64.
package codec

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"the-dev-tools/apidiff/pkg/model/mcase"
	"the-dev-tools/apidiff/pkg/model/mresponse"

	"github.com/goccy/go-json"
)

type mediaClass int8

const (
	mediaOther mediaClass = iota
	mediaJSON
	mediaXML
	mediaText
)

func classify(contentType string) mediaClass {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return mediaJSON
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasSuffix(mediaType, "+xml"):
		return mediaXML
	case strings.HasPrefix(mediaType, "text/"):
		return mediaText
	default:
		return mediaOther
	}
}

// EncodeBody renders a request body to transport bytes.
func EncodeBody(b mcase.Body) ([]byte, error) {
	if b.Kind == mcase.BodyKindNone {
		return nil, nil
	}
	switch classify(b.MediaType) {
	case mediaJSON:
		switch b.Kind {
		case mcase.BodyKindStructured:
			data, err := json.Marshal(b.Structured)
			if err != nil {
				return nil, fmt.Errorf("encode json body: %w", err)
			}
			return data, nil
		case mcase.BodyKindText:
			return []byte(b.Text), nil
		default:
			// re-serialize when the bytes parse, pass through when they don't
			var v any
			if err := json.Unmarshal(b.Bytes, &v); err != nil {
				return b.Bytes, nil
			}
			data, err := json.Marshal(v)
			if err != nil {
				return b.Bytes, nil
			}
			return data, nil
		}
	case mediaXML:
		switch b.Kind {
		case mcase.BodyKindStructured:
			return EncodeXML(b.Structured), nil
		case mcase.BodyKindText:
			return []byte(b.Text), nil
		default:
			return b.Bytes, nil
		}
	default:
		switch b.Kind {
		case mcase.BodyKindText:
			return []byte(b.Text), nil
		case mcase.BodyKindBytes:
			return b.Bytes, nil
		default:
			data, err := json.Marshal(b.Structured)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			return data, nil
		}
	}
}

// DecodeResponse captures raw response bytes into the body union. Structured
// parse failures fall back to base64 capture rather than erroring: the
// comparator still gets a comparable value.
func DecodeResponse(contentType string, raw []byte, forceList map[string]bool) mresponse.Body {
	if len(raw) == 0 {
		// a declared binary media type with zero bytes is a present-but-empty
		// body, distinct from no body at all
		if contentType != "" && classify(contentType) == mediaOther {
			return mresponse.Body{Kind: mresponse.BodyKindBinary, Base64: ""}
		}
		return mresponse.Body{Kind: mresponse.BodyKindNone}
	}
	switch classify(contentType) {
	case mediaJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return binaryBody(raw)
		}
		return mresponse.Body{Kind: mresponse.BodyKindStructured, Structured: v}
	case mediaXML:
		v, err := DecodeXML(raw, forceList)
		if err != nil {
			return binaryBody(raw)
		}
		return mresponse.Body{Kind: mresponse.BodyKindStructured, Structured: v}
	case mediaText:
		return mresponse.Body{Kind: mresponse.BodyKindText, Text: string(raw)}
	default:
		return binaryBody(raw)
	}
}

func binaryBody(raw []byte) mresponse.Body {
	return mresponse.Body{
		Kind:   mresponse.BodyKindBinary,
		Base64: base64.StdEncoding.EncodeToString(raw),
	}
}
