package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_IsImmutable(t *testing.T) {
	src := json.RawMessage(`"sub-1"`)
	f := NewFrame(VerbEOSE, src)

	src[1] = 'X'
	key, ok := f.CorrelationKey()
	require.True(t, ok)
	assert.Equal(t, "sub-1", key, "construction copies the bytes")

	raw, ok := f.Field(0)
	require.True(t, ok)
	raw[1] = 'Y'
	all := f.Fields()
	all[0][1] = 'Z'

	key, _ = f.CorrelationKey()
	assert.Equal(t, "sub-1", key, "accessors hand out copies")
}

func TestFrame_CorrelationKey(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		key   string
		ok    bool
	}{
		{"ok by message id", NewFrame(VerbOK, json.RawMessage(`"abc"`), json.RawMessage(`true`)), "abc", true},
		{"event by sub id", NewFrame(VerbEvent, json.RawMessage(`"s1"`), json.RawMessage(`{}`)), "s1", true},
		{"notice has none", NewFrame(VerbNotice, json.RawMessage(`"hi"`)), "", false},
		{"non-string key", NewFrame(VerbEOSE, json.RawMessage(`42`)), "", false},
		{"empty key", NewFrame(VerbEOSE, json.RawMessage(`""`)), "", false},
		{"missing key", NewFrame(VerbEOSE), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := tt.frame.CorrelationKey()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}
