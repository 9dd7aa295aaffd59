package core

import "context"

// SecretStore supplies signing secrets and encryption keys by logical name.
// Implementations are expected to be safe for concurrent use.
//
// The signing secret and the payload encryption key are independent entries;
// rotating one does not invalidate the other. Consumers fetch both at
// construction time, so a rotation takes effect on the next component build.
type SecretStore interface {
	// Secret returns the secret bytes stored under name, or ErrSecretNotFound.
	Secret(ctx context.Context, name string) ([]byte, error)
}

// Publisher publishes envelopes to a named topic.
type Publisher interface {
	Publish(topic string, env Envelope)
}

// Subscriber receives envelopes from a named topic until the context is
// cancelled. The returned channel is closed on cancellation.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, error)
}
