package signer

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/webitel/relay-probe/internal/domain/model"
)

// Signer turns unsigned drafts into fully populated, signed messages.
type Signer interface {
	PublicKey() string
	Sign(d model.Draft) (*model.Message, error)
}

// Interface guard
var _ Signer = (*KeySigner)(nil)

// KeySigner signs with a single secp256k1 secret key.
type KeySigner struct {
	secret string
	pubkey string
}

// New derives the public identifier from a hex secret key.
func New(secret string) (*KeySigner, error) {
	pub, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("signer: derive public key: %w", err)
	}
	return &KeySigner{secret: secret, pubkey: pub}, nil
}

// Generate creates a signer around a fresh random key.
func Generate() (*KeySigner, error) {
	return New(nostr.GeneratePrivateKey())
}

func (s *KeySigner) PublicKey() string { return s.pubkey }

func (s *KeySigner) Sign(d model.Draft) (*model.Message, error) {
	tags := make(model.Tags, 0, len(d.Tags))
	for _, tag := range d.Tags {
		tags = append(tags, append(model.Tag(nil), tag...))
	}

	ev := nostr.Event{
		PubKey:    s.pubkey,
		CreatedAt: d.CreatedAt,
		Kind:      d.Kind,
		Tags:      tags,
		Content:   d.Content,
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = nostr.Now()
	}
	if err := ev.Sign(s.secret); err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	return &model.Message{Event: ev}, nil
}
