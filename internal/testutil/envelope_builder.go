package testutil

import (
	"time"

	"github.com/hupe1980/securemesh/core"
)

// EnvelopeBuilder provides a fluent helper for constructing envelopes in
// tests. Example:
//
//	env := NewEnvelopeBuilder().Payload("action", "ping").Age(10 * time.Second).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EnvelopeBuilder struct {
	id        string
	payload   map[string]any
	timestamp time.Time
	signature string
	encrypted bool
}

// NewEnvelopeBuilder creates a builder stamped with the current time and an
// empty payload.
func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{payload: map[string]any{}, timestamp: time.Now().UTC()}
}

// ID overrides the auto-generated envelope ID (chainable).
func (b *EnvelopeBuilder) ID(id string) *EnvelopeBuilder { b.id = id; return b }

// Payload sets a payload key/value pair (chainable).
func (b *EnvelopeBuilder) Payload(key string, value any) *EnvelopeBuilder {
	b.payload[key] = value
	return b
}

// PayloadMap replaces the whole payload (chainable).
func (b *EnvelopeBuilder) PayloadMap(p map[string]any) *EnvelopeBuilder { b.payload = p; return b }

// Timestamp overrides the envelope timestamp (chainable).
func (b *EnvelopeBuilder) Timestamp(t time.Time) *EnvelopeBuilder { b.timestamp = t; return b }

// Age stamps the envelope d in the past (chainable).
func (b *EnvelopeBuilder) Age(d time.Duration) *EnvelopeBuilder {
	b.timestamp = time.Now().UTC().Add(-d)
	return b
}

// Signature sets a raw signature value without signing (chainable).
func (b *EnvelopeBuilder) Signature(sig string) *EnvelopeBuilder { b.signature = sig; return b }

// Encrypted sets the encrypted flag without encrypting (chainable).
func (b *EnvelopeBuilder) Encrypted(e bool) *EnvelopeBuilder { b.encrypted = e; return b }

// Build assembles the envelope.
func (b *EnvelopeBuilder) Build() *core.Envelope {
	id := b.id
	if id == "" {
		id = core.NewID()
	}
	return &core.Envelope{
		ID:        id,
		Payload:   b.payload,
		Timestamp: b.timestamp,
		Signature: b.signature,
		Encrypted: b.encrypted,
	}
}
