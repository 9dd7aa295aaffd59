package core

import (
	"fmt"
	"time"
)

var (
	// ErrStaleTimestamp is returned when an envelope timestamp falls outside
	// the freshness window at validation time.
	ErrStaleTimestamp = fmt.Errorf("envelope timestamp outside freshness window")

	// ErrSecretNotFound is returned by SecretStore implementations when no
	// secret exists under the requested name.
	ErrSecretNotFound = fmt.Errorf("secret not found")
)

// VerificationError reports a signature mismatch or decryption failure on an
// inbound envelope. Callers treat the message as untrusted; the communicator
// degrades to returning the unverified raw body instead of failing the call.
type VerificationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope verification failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("envelope verification failed: %s", e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *VerificationError) Unwrap() error { return e.Err }

// RateLimitedError reports a peer 429 response together with the advertised
// retry delay. It is an expected, schedulable condition rather than a
// terminal failure.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by peer, retry after %s", e.RetryAfter)
}

// TransportError reports a failed request after the retry budget has been
// exhausted. StatusCode is zero for connection level failures.
type TransportError struct {
	Target     string
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d after %d attempts: %v", e.Target, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

// Unwrap returns the last underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }
