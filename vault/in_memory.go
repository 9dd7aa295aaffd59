// Package vault provides secret store implementations satisfying
// core.SecretStore. Only an in-memory store ships with the module; production
// deployments plug their own vault behind the same interface.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/securemesh/core"
)

// InMemoryStore is a volatile SecretStore implementation keeping secrets in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo setups. Each returned secret is copied to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// Compile-time interface assertion.
var _ core.SecretStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory secret store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{secrets: make(map[string][]byte)}
}

// Secret returns a copy of the secret stored under name, or
// core.ErrSecretNotFound.
func (s *InMemoryStore) Secret(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, core.ErrSecretNotFound)
	}
	return append([]byte(nil), secret...), nil
}

// Put stores a copy of secret under name, overwriting any existing entry.
func (s *InMemoryStore) Put(name string, secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = append([]byte(nil), secret...)
}

// Delete removes the secret stored under name, if present.
func (s *InMemoryStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}
