package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/relay-probe/internal/domain/model"
)

func TestKeySigner_SignsVerifiableMessage(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)
	assert.Len(t, s.PublicKey(), 64)

	draft := model.NewTaggedDraft(1, "hello relay", "t", "probe-42")
	msg, err := s.Sign(draft)
	require.NoError(t, err)

	assert.Len(t, msg.ID, 64)
	assert.Equal(t, s.PublicKey(), msg.PubKey)
	assert.True(t, msg.HasTag("t", "probe-42"))
	assert.True(t, msg.Verify())

	msg.Content = "tampered"
	assert.False(t, msg.Verify(), "identifier no longer matches content")
}

func TestKeySigner_IdentifierIsDeterministic(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	draft := model.NewTaggedDraft(1, "same", "t", "x")
	a, err := s.Sign(draft)
	require.NoError(t, err)
	b, err := s.Sign(draft)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestNew_RejectsGarbageKey(t *testing.T) {
	_, err := New("not-hex")
	assert.Error(t, err)
}
