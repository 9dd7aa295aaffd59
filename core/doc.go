// Package core provides the foundational domain types and interfaces used by
// SecureMesh. It defines the core abstractions for:
//
//   - Envelopes (signed, optionally encrypted message wrappers with replay
//     protected timestamps)
//   - The error taxonomy shared by the communicator, breaker and limiter
//   - The SecretStore collaborator supplying signing secrets and encryption
//     keys by logical name
//
// The package intentionally keeps implementation concerns (cryptography,
// transport, queueing) out of scope, exposing small interfaces to enable
// custom backends and extensions.
package core
