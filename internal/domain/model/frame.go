package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Verb is the string head of every protocol frame.
type Verb string

const (
	VerbEvent  Verb = "EVENT"
	VerbOK     Verb = "OK"
	VerbReq    Verb = "REQ"
	VerbClose  Verb = "CLOSE"
	VerbEOSE   Verb = "EOSE"
	VerbNotice Verb = "NOTICE"
)

// Known reports whether v belongs to the closed verb set.
func (v Verb) Known() bool {
	switch v {
	case VerbEvent, VerbOK, VerbReq, VerbClose, VerbEOSE, VerbNotice:
		return true
	}
	return false
}

// [FRAME] ONE DECODED PROTOCOL UNIT
// Fields hold everything after the verb and stay opaque until a verb schema reads them.
// A Frame is never mutated after construction; accessors copy out.
type Frame struct {
	verb   Verb
	fields []json.RawMessage
}

func NewFrame(verb Verb, fields ...json.RawMessage) Frame {
	return Frame{verb: verb, fields: cloneFields(fields)}
}

func (f Frame) Verb() Verb { return f.verb }
func (f Frame) Len() int   { return len(f.fields) }

// Field returns the raw JSON of field i (0 is the first element after the verb).
func (f Frame) Field(i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(f.fields) {
		return nil, false
	}
	return bytes.Clone(f.fields[i]), true
}

// Fields returns a copy of all raw fields.
func (f Frame) Fields() []json.RawMessage {
	return cloneFields(f.fields)
}

func cloneFields(fields []json.RawMessage) []json.RawMessage {
	cp := make([]json.RawMessage, len(fields))
	for i, raw := range fields {
		cp[i] = bytes.Clone(raw)
	}
	return cp
}

// StringField decodes field i as a JSON string.
func (f Frame) StringField(i int) (string, error) {
	raw, ok := f.Field(i)
	if !ok {
		return "", fmt.Errorf("%w: %s frame has no field %d", ErrMalformedFrame, f.verb, i)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s field %d is not a string", ErrMalformedFrame, f.verb, i)
	}
	return s, nil
}

// BoolField decodes field i as a JSON boolean.
func (f Frame) BoolField(i int) (bool, error) {
	raw, ok := f.Field(i)
	if !ok {
		return false, fmt.Errorf("%w: %s frame has no field %d", ErrMalformedFrame, f.verb, i)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("%w: %s field %d is not a bool", ErrMalformedFrame, f.verb, i)
	}
	return b, nil
}

// CorrelationKey extracts the key used to route an inbound frame to its pending exchange.
// OK frames are keyed by message id, EVENT and EOSE by subscription id; both sit in field 0.
func (f Frame) CorrelationKey() (string, bool) {
	switch f.verb {
	case VerbOK, VerbEvent, VerbEOSE:
		key, err := f.StringField(0)
		if err != nil || key == "" {
			return "", false
		}
		return key, true
	}
	return "", false
}

func (f Frame) String() string {
	return fmt.Sprintf("%s(%d fields)", f.verb, len(f.fields))
}
