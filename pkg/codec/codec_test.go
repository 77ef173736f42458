package codec

import (
	"encoding/base64"
	"testing"

	"the-dev-tools/apidiff/pkg/model/mcase"
	"the-dev-tools/apidiff/pkg/model/mresponse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBodyJSONStructured(t *testing.T) {
	body := mcase.Body{
		Kind:       mcase.BodyKindStructured,
		Structured: map[string]any{"name": "ada", "id": float64(1)},
		MediaType:  "application/json",
	}

	data, err := EncodeBody(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"ada"}`, string(data))
}

func TestEncodeBodyNone(t *testing.T) {
	data, err := EncodeBody(mcase.Body{Kind: mcase.BodyKindNone})
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodeBodyRawJSONPassesThroughWhenUnparseable(t *testing.T) {
	body := mcase.Body{
		Kind:      mcase.BodyKindBytes,
		Bytes:     []byte("{not json"),
		MediaType: "application/json",
	}

	data, err := EncodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("{not json"), data)
}

func TestEncodeBodyText(t *testing.T) {
	body := mcase.Body{Kind: mcase.BodyKindText, Text: "hello", MediaType: "text/plain"}

	data, err := EncodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestDecodeResponseJSON(t *testing.T) {
	body := DecodeResponse("application/json; charset=utf-8", []byte(`{"id":7}`), nil)
	require.Equal(t, mresponse.BodyKindStructured, body.Kind)
	assert.Equal(t, map[string]any{"id": float64(7)}, body.Structured)
}

func TestDecodeResponseJSONSuffix(t *testing.T) {
	body := DecodeResponse("application/problem+json", []byte(`{"title":"nope"}`), nil)
	assert.Equal(t, mresponse.BodyKindStructured, body.Kind)
}

func TestDecodeResponseInvalidJSONFallsBackToBinary(t *testing.T) {
	raw := []byte("{broken")
	body := DecodeResponse("application/json", raw, nil)
	require.Equal(t, mresponse.BodyKindBinary, body.Kind)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), body.Base64)
}

func TestDecodeResponseEmpty(t *testing.T) {
	body := DecodeResponse("application/json", nil, nil)
	assert.Equal(t, mresponse.BodyKindNone, body.Kind)

	body = DecodeResponse("", nil, nil)
	assert.Equal(t, mresponse.BodyKindNone, body.Kind)
}

func TestDecodeResponseEmptyBinaryMediaIsPresent(t *testing.T) {
	body := DecodeResponse("application/octet-stream", nil, nil)
	require.Equal(t, mresponse.BodyKindBinary, body.Kind)
	assert.Equal(t, "", body.Base64)
}

func TestDecodeResponseText(t *testing.T) {
	body := DecodeResponse("text/plain; charset=utf-8", []byte("plain text"), nil)
	require.Equal(t, mresponse.BodyKindText, body.Kind)
	assert.Equal(t, "plain text", body.Text)
}

func TestDecodeResponseBinary(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	body := DecodeResponse("image/png", raw, nil)
	require.Equal(t, mresponse.BodyKindBinary, body.Kind)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), body.Base64)
}

func TestDecodeXMLBasics(t *testing.T) {
	raw := []byte(`<user id="7"><name>ada</name><tag>x</tag><tag>y</tag></user>`)

	v, err := DecodeXML(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"user": map[string]any{
			"@id":  "7",
			"name": "ada",
			"tag":  []any{"x", "y"},
		},
	}, v)
}

func TestDecodeXMLStripsNamespaces(t *testing.T) {
	raw := []byte(`<ns:user xmlns:ns="http://example.com/ns"><ns:name>ada</ns:name></ns:user>`)

	v, err := DecodeXML(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"user": map[string]any{"name": "ada"},
	}, v)
}

func TestDecodeXMLForceList(t *testing.T) {
	raw := []byte(`<order><item>one</item></order>`)

	v, err := DecodeXML(raw, map[string]bool{"item": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"order": map[string]any{"item": []any{"one"}},
	}, v)
}

func TestDecodeXMLMixedContent(t *testing.T) {
	raw := []byte(`<note lang="en">remember<ref>42</ref></note>`)

	v, err := DecodeXML(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"note": map[string]any{
			"@lang": "en",
			"#text": "remember",
			"ref":   "42",
		},
	}, v)
}

func TestDecodeXMLNoRoot(t *testing.T) {
	_, err := DecodeXML([]byte("   "), nil)
	assert.Error(t, err)
}

func TestEncodeXMLRoundTrip(t *testing.T) {
	v := map[string]any{
		"user": map[string]any{
			"@id":  "7",
			"name": "ada",
			"tag":  []any{"x", "y"},
		},
	}

	raw := EncodeXML(v)
	decoded, err := DecodeXML(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestEncodeXMLDefaultRoot(t *testing.T) {
	raw := EncodeXML(map[string]any{"a": "1", "b": "2"})
	assert.Contains(t, string(raw), "<root>")
	assert.Contains(t, string(raw), "</root>")
}

func TestEncodeXMLEscapes(t *testing.T) {
	raw := EncodeXML(map[string]any{"msg": "a < b & c"})
	assert.Contains(t, string(raw), "a &lt; b &amp; c")
}
