package wsmarshaller

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/relay-probe/internal/domain/model"
)

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `hello`,
		"object":          `{"verb":"EVENT"}`,
		"empty array":     `[]`,
		"numeric head":    `[1, "x"]`,
		"unknown verb":    `["AUTH", "challenge"]`,
		"truncated array": `["EOSE", "abc"`,
		"blank":           `   `,
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(text))
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrMalformedFrame)
		})
	}
}

func TestDecode_UnknownVerbIsMalformed(t *testing.T) {
	_, err := Decode([]byte(`["COUNT","sub",{}]`))
	assert.ErrorIs(t, err, model.ErrUnknownVerb)
	assert.ErrorIs(t, err, model.ErrMalformedFrame)
}

func TestDecode_Inbound(t *testing.T) {
	f, err := Decode([]byte(` ["OK","abc123",true,"duplicate: already have it"] `))
	require.NoError(t, err)
	assert.Equal(t, model.VerbOK, f.Verb())

	key, ok := f.CorrelationKey()
	require.True(t, ok)
	assert.Equal(t, "abc123", key)

	ack, err := ParseOK(f)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "duplicate: already have it", ack.Reason)

	f, err = Decode([]byte(`["EOSE","sub1"]`))
	require.NoError(t, err)
	key, ok = f.CorrelationKey()
	require.True(t, ok)
	assert.Equal(t, "sub1", key)

	f, err = Decode([]byte(`["NOTICE","rate limited"]`))
	require.NoError(t, err)
	_, ok = f.CorrelationKey()
	assert.False(t, ok)
	assert.Equal(t, "rate limited", ParseNotice(f))
}

func TestParseOK_RequiresBool(t *testing.T) {
	f, err := Decode([]byte(`["OK","abc","yes"]`))
	require.NoError(t, err)

	_, err = ParseOK(f)
	assert.ErrorIs(t, err, model.ErrMalformedFrame)
}

func TestParseEvent(t *testing.T) {
	f, err := Decode([]byte(`["EVENT","s1",{"id":"ff","pubkey":"aa","created_at":1700000000,"kind":1,"tags":[["t","probe-42"]],"content":"hi","sig":"00"}]`))
	require.NoError(t, err)

	subID, msg, err := ParseEvent(f)
	require.NoError(t, err)
	assert.Equal(t, "s1", subID)
	assert.Equal(t, "ff", msg.ID)
	assert.Equal(t, 1, msg.Kind)
	assert.True(t, msg.HasTag("t", "probe-42"))

	f, err = Decode([]byte(`["EVENT","s1"]`))
	require.NoError(t, err)
	_, _, err = ParseEvent(f)
	assert.ErrorIs(t, err, model.ErrMalformedFrame)
}

func TestEncode_OutboundCommands(t *testing.T) {
	req, err := NewReqFrame("ab12cd34", model.TagFilter(1, 10, "t", "probe-42"))
	require.NoError(t, err)

	data, err := Encode(req)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &parts))
	require.Len(t, parts, 3)
	assert.JSONEq(t, `"REQ"`, string(parts[0]))
	assert.JSONEq(t, `"ab12cd34"`, string(parts[1]))

	var filter map[string]any
	require.NoError(t, json.Unmarshal(parts[2], &filter))
	assert.Equal(t, []any{"probe-42"}, filter["#t"])
	assert.Equal(t, []any{float64(1)}, filter["kinds"])
	assert.Equal(t, float64(10), filter["limit"])

	data, err = Encode(NewCloseFrame("ab12cd34"))
	require.NoError(t, err)
	assert.JSONEq(t, `["CLOSE","ab12cd34"]`, string(data))
}

func TestEncode_RejectsUnknownVerb(t *testing.T) {
	_, err := Encode(model.NewFrame(model.Verb("AUTH")))
	assert.ErrorIs(t, err, model.ErrUnknownVerb)
}

func TestEncodeDecode_EventFrame(t *testing.T) {
	msg := &model.Message{}
	msg.ID = "ff00"
	msg.Kind = 1
	msg.Tags = model.Tags{model.Tag{"t", "x"}}
	msg.Content = "body"

	f, err := NewEventFrame(msg)
	require.NoError(t, err)

	data, err := Encode(f)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, model.VerbEvent, back.Verb())
	require.Equal(t, 1, back.Len())

	var body map[string]any
	raw, _ := back.Field(0)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "ff00", body["id"])
	assert.Equal(t, "body", body["content"])
}
