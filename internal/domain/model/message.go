package model

import (
	"github.com/nbd-wtf/go-nostr"
)

type (
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	TagMap    = nostr.TagMap
	Timestamp = nostr.Timestamp
)

// [MESSAGE] SIGNED, CONTENT-ADDRESSED RELAY MESSAGE
// The identifier is the hash of the canonical (pubkey, created_at, kind, tags, content)
// encoding and the signature binds it to the author. Built once by a Signer, never mutated.
type Message struct {
	nostr.Event
}

// Draft carries the unsigned fields handed to a Signer.
type Draft struct {
	CreatedAt Timestamp
	Kind      int
	Tags      Tags
	Content   string
}

// NewTaggedDraft builds a draft with exactly one (name, value) tag.
func NewTaggedDraft(kind int, content, tagName, tagValue string) Draft {
	return Draft{
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      Tags{Tag{tagName, tagValue}},
		Content:   content,
	}
}

// Verify recomputes the identifier and checks the signature.
func (m *Message) Verify() bool {
	if m == nil {
		return false
	}
	if m.Event.GetID() != m.ID {
		return false
	}
	ok, err := m.Event.CheckSignature()
	return err == nil && ok
}

// HasTag reports whether the message carries a tag with the given name and value.
func (m *Message) HasTag(name, value string) bool {
	for _, tag := range m.Tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}

// ContainsID reports whether any message in msgs has the given identifier.
func ContainsID(msgs []*Message, id string) bool {
	for _, m := range msgs {
		if m != nil && m.ID == id {
			return true
		}
	}
	return false
}
