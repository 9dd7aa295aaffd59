package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeValidateFreshness(t *testing.T) {
	now := time.Now().UTC()

	fresh := &Envelope{ID: NewID(), Payload: map[string]any{"k": "v"}, Timestamp: now.Add(-299 * time.Second)}
	if err := fresh.Validate(now); err != nil {
		t.Fatalf("envelope 299s old should validate, got %v", err)
	}

	stale := &Envelope{ID: NewID(), Payload: map[string]any{"k": "v"}, Timestamp: now.Add(-301 * time.Second)}
	if err := stale.Validate(now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("envelope 301s old should fail with ErrStaleTimestamp, got %v", err)
	}

	// Timestamps from the future are just as suspect.
	future := &Envelope{ID: NewID(), Payload: map[string]any{"k": "v"}, Timestamp: now.Add(301 * time.Second)}
	if err := future.Validate(now); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("future envelope should fail with ErrStaleTimestamp, got %v", err)
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	env := NewEnvelope(map[string]any{"action": "ping"})
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(data)
	// Unsigned envelopes carry an explicit null signature on the wire.
	if !strings.Contains(s, `"signature":null`) {
		t.Fatalf("expected null signature, got %s", s)
	}
	if !strings.Contains(s, `"encrypted":false`) {
		t.Fatalf("expected encrypted flag, got %s", s)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal wire failed: %v", err)
	}
	if _, ok := wire["timestamp"].(float64); !ok {
		t.Fatalf("timestamp must be a JSON number, got %T", wire["timestamp"])
	}
}

func TestEnvelopeWireRoundTrip(t *testing.T) {
	env := NewEnvelope(map[string]any{"action": "ping", "n": float64(2)})
	env.Signature = "abc123"

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.ID != env.ID || got.Signature != env.Signature || got.Encrypted != env.Encrypted {
		t.Fatalf("round trip mismatch: %#v vs %#v", got, env)
	}
	if got.Payload["action"] != "ping" || got.Payload["n"] != float64(2) {
		t.Fatalf("payload mismatch: %#v", got.Payload)
	}
	// Float-seconds precision keeps the timestamp within a microsecond.
	if d := got.Timestamp.Sub(env.Timestamp); d > time.Microsecond || d < -time.Microsecond {
		t.Fatalf("timestamp drifted by %s", d)
	}
}

func TestEnvelopeUnixSeconds(t *testing.T) {
	env := &Envelope{Timestamp: time.Unix(1700000000, 500000000).UTC()}
	if got := env.UnixSeconds(); got != 1700000000.5 {
		t.Fatalf("expected 1700000000.5, got %f", got)
	}
}
