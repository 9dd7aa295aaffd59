package core

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// FreshnessWindow is the maximum tolerated clock skew between an envelope's
// timestamp and validation time. Envelopes outside the window are rejected
// to bound replay attacks.
const FreshnessWindow = 300 * time.Second

// Envelope is the unit of communication between services. It wraps a payload
// with an integrity signature and an optional confidentiality layer. After
// construction it should be treated as immutable, with one exception: the
// payload may be replaced in place by its decrypted form exactly once during
// verification (see seal.Sealer.Open).
//
// Wire shape (JSON):
//
//	{
//	  "id": "<uuid>",
//	  "payload": {...},
//	  "timestamp": <float seconds since epoch>,
//	  "signature": "<hex>" | null,
//	  "encrypted": <bool>
//	}
type Envelope struct {
	// ID uniquely identifies the message for correlation and tracing.
	ID string
	// Payload carries the message content. When Encrypted is true it holds a
	// single "ciphertext" key with the base64 encoded ciphertext.
	Payload map[string]any
	// Timestamp is the construction time, stamped in UTC.
	Timestamp time.Time
	// Signature is the hex encoded HMAC-SHA256 digest over the canonical JSON
	// serialization of Payload. Empty when unsigned.
	Signature string
	// Encrypted reports whether Payload currently holds ciphertext.
	Encrypted bool
}

// NewEnvelope creates an unsigned envelope around payload, stamping the
// current time. Signing and encryption are applied by seal.Sealer.
func NewEnvelope(payload map[string]any) *Envelope {
	return &Envelope{
		ID:        NewID(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for envelopes.
func NewID() string { return uuid.NewString() }

// Validate checks the envelope timestamp against the freshness window
// relative to now. It returns ErrStaleTimestamp (wrapped with the observed
// skew) for envelopes too old or too far in the future.
func (e *Envelope) Validate(now time.Time) error {
	skew := now.Sub(e.Timestamp)
	if skew > FreshnessWindow || skew < -FreshnessWindow {
		return fmt.Errorf("%w: skew %s exceeds %s", ErrStaleTimestamp, skew.Round(time.Millisecond), FreshnessWindow)
	}
	return nil
}

// Age returns how far in the past the envelope was stamped relative to now.
// Negative values indicate a timestamp in the future.
func (e *Envelope) Age(now time.Time) time.Duration { return now.Sub(e.Timestamp) }

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch,
// the numeric form used on the wire and in the timestamp request header.
func (e *Envelope) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }

// wireEnvelope is the JSON representation exchanged over HTTP.
type wireEnvelope struct {
	ID        string         `json:"id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp float64        `json:"timestamp"`
	Signature *string        `json:"signature"`
	Encrypted bool           `json:"encrypted"`
}

// MarshalJSON implements json.Marshaler using the wire shape, emitting the
// timestamp as float seconds and a null signature when unsigned.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		ID:        e.ID,
		Payload:   e.Payload,
		Timestamp: e.UnixSeconds(),
		Encrypted: e.Encrypted,
	}
	if e.Signature != "" {
		sig := e.Signature
		w.Signature = &sig
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for the wire shape.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.ID = w.ID
	e.Payload = w.Payload
	e.Timestamp = timeFromUnixSeconds(w.Timestamp)
	e.Encrypted = w.Encrypted
	e.Signature = ""
	if w.Signature != nil {
		e.Signature = *w.Signature
	}
	return nil
}

func timeFromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
