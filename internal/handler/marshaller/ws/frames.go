package wsmarshaller

import (
	"encoding/json"
	"fmt"

	"github.com/webitel/relay-probe/internal/domain/model"
)

// OK is the decoded acknowledgment for a published message.
type OK struct {
	MessageID string
	Accepted  bool
	Reason    string
}

// NewEventFrame builds the outbound ["EVENT", <message>] command.
func NewEventFrame(msg *model.Message) (model.Frame, error) {
	raw, err := json.Marshal(msg.Event)
	if err != nil {
		return model.Frame{}, fmt.Errorf("marshal message: %w", err)
	}
	return model.NewFrame(model.VerbEvent, raw), nil
}

// NewReqFrame builds ["REQ", <subID>, <filter>].
func NewReqFrame(subID string, filter model.Filter) (model.Frame, error) {
	id, err := json.Marshal(subID)
	if err != nil {
		return model.Frame{}, err
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return model.Frame{}, fmt.Errorf("marshal filter: %w", err)
	}
	return model.NewFrame(model.VerbReq, id, raw), nil
}

// NewCloseFrame builds ["CLOSE", <subID>].
func NewCloseFrame(subID string) model.Frame {
	id, _ := json.Marshal(subID)
	return model.NewFrame(model.VerbClose, id)
}

// ParseOK applies the ["OK", id, accepted, reason] schema. The reason is optional.
func ParseOK(f model.Frame) (OK, error) {
	if f.Verb() != model.VerbOK {
		return OK{}, fmt.Errorf("%w: expected OK, got %s", model.ErrMalformedFrame, f.Verb())
	}
	id, err := f.StringField(0)
	if err != nil {
		return OK{}, err
	}
	accepted, err := f.BoolField(1)
	if err != nil {
		return OK{}, err
	}
	res := OK{MessageID: id, Accepted: accepted}
	if f.Len() > 2 {
		if reason, err := f.StringField(2); err == nil {
			res.Reason = reason
		}
	}
	return res, nil
}

// ParseEvent applies the inbound ["EVENT", subID, <message>] schema.
func ParseEvent(f model.Frame) (string, *model.Message, error) {
	if f.Verb() != model.VerbEvent {
		return "", nil, fmt.Errorf("%w: expected EVENT, got %s", model.ErrMalformedFrame, f.Verb())
	}
	subID, err := f.StringField(0)
	if err != nil {
		return "", nil, err
	}
	raw, ok := f.Field(1)
	if !ok {
		return "", nil, fmt.Errorf("%w: EVENT frame has no message", model.ErrMalformedFrame)
	}
	msg := &model.Message{}
	if err := json.Unmarshal(raw, &msg.Event); err != nil {
		return "", nil, fmt.Errorf("%w: message: %v", model.ErrMalformedFrame, err)
	}
	return subID, msg, nil
}

// ParseNotice extracts the human-readable text of a NOTICE frame.
func ParseNotice(f model.Frame) string {
	s, err := f.StringField(0)
	if err != nil {
		return ""
	}
	return s
}
