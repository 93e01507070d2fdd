package wsmarshaller

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/webitel/relay-probe/internal/domain/model"
)

// Encode renders a frame as a JSON array text: [verb, field0, field1, ...].
func Encode(f model.Frame) ([]byte, error) {
	if !f.Verb().Known() {
		return nil, fmt.Errorf("encode %q: %w", f.Verb(), model.ErrUnknownVerb)
	}

	head, err := json.Marshal(string(f.Verb()))
	if err != nil {
		return nil, err
	}

	parts := make([]json.RawMessage, 0, f.Len()+1)
	parts = append(parts, head)
	parts = append(parts, f.Fields()...)

	return json.Marshal(parts)
}

// Decode parses wire text into a frame. Anything that is not an array headed by a
// known verb string fails with model.ErrMalformedFrame.
func Decode(data []byte) (model.Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return model.Frame{}, fmt.Errorf("%w: not a json array", model.ErrMalformedFrame)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return model.Frame{}, fmt.Errorf("%w: %v", model.ErrMalformedFrame, err)
	}
	if len(parts) == 0 {
		return model.Frame{}, fmt.Errorf("%w: empty array", model.ErrMalformedFrame)
	}

	var verb string
	if err := json.Unmarshal(parts[0], &verb); err != nil {
		return model.Frame{}, fmt.Errorf("%w: head is not a string", model.ErrMalformedFrame)
	}
	if !model.Verb(verb).Known() {
		return model.Frame{}, fmt.Errorf("%w: %q", model.ErrUnknownVerb, verb)
	}

	return model.NewFrame(model.Verb(verb), parts[1:]...), nil
}
