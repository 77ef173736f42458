package idwrap

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDWrapTextRoundTrip(t *testing.T) {
	id := NewNow()
	text := id.String()
	assert.Len(t, text, 26)

	data, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, text, string(data))

	var parsed IDWrap
	require.NoError(t, parsed.UnmarshalText(data))
	assert.Equal(t, id, parsed)
}

func TestIDWrapJSONRoundTrip(t *testing.T) {
	id := NewNow()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var parsed IDWrap
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, id, parsed)
}

func TestIDWrapUnmarshalTextRejectsGarbage(t *testing.T) {
	var parsed IDWrap
	assert.Error(t, parsed.UnmarshalText([]byte("not-a-ulid")))
}
