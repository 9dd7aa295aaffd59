// Package seal implements the integrity and confidentiality layer of the
// envelope protocol: HMAC-SHA256 signing over canonical payload JSON,
// authenticated symmetric encryption (AES-256-GCM) of payload contents, and
// the Sealer that combines both into secure message construction and
// verification.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/logging"
)

// ciphertextKey is the single payload key carrying ciphertext when an
// envelope is encrypted.
const ciphertextKey = "ciphertext"

// CanonicalPayload serializes payload to its canonical JSON form. Map keys
// are emitted in sorted order (encoding/json guarantees this for maps), so
// equal payloads always produce identical bytes for signing.
func CanonicalPayload(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}

// Sign computes the hex encoded HMAC-SHA256 digest over the canonical JSON
// serialization of payload.
func Sign(payload map[string]any, secret []byte) (string, error) {
	data, err := CanonicalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches the HMAC-SHA256 digest of payload
// under secret. The comparison is constant time.
func Verify(payload map[string]any, signature string, secret []byte) bool {
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Encrypt replaces payload with a single-key ciphertext payload using
// AES-256-GCM. The returned map holds base64(nonce || ciphertext) under the
// "ciphertext" key. The key material is normalized to 32 bytes via SHA-256 so
// any vault supplied secret is usable.
func Encrypt(payload map[string]any, key []byte) (map[string]any, error) {
	data, err := CanonicalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ct := gcm.Seal(nonce, nonce, data, nil)
	return map[string]any{ciphertextKey: base64.StdEncoding.EncodeToString(ct)}, nil
}

// Decrypt reverses Encrypt, returning the original payload. It fails if the
// ciphertext has been tampered with (GCM authentication) or the payload does
// not carry a ciphertext key.
func Decrypt(payload map[string]any, key []byte) (map[string]any, error) {
	raw, ok := payload[ciphertextKey].(string)
	if !ok {
		return nil, fmt.Errorf("payload has no %q key", ciphertextKey)
	}
	ct, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ct) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ct := ct[:gcm.NonceSize()], ct[gcm.NonceSize():]
	data, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode plaintext payload: %w", err)
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	k := sha256.Sum256(key)
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	return gcm, nil
}

// Options configures a Sealer.
type Options struct {
	// Logger receives verification failure details. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Sealer binds a signing secret and an optional encryption key, producing and
// verifying envelopes. A Sealer is stateless and safe for concurrent use.
type Sealer struct {
	secret []byte
	key    []byte
	logger logging.Logger
	now    func() time.Time
}

// New creates a Sealer from a signing secret and an optional encryption key
// (nil disables encryption support).
func New(secret, key []byte, optFns ...func(o *Options)) *Sealer {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Sealer{secret: secret, key: key, logger: opts.Logger, now: time.Now}
}

// Seal wraps payload into a signed envelope, optionally encrypting it first.
// The signature always covers the payload as transmitted, so for encrypted
// messages it covers the ciphertext-bearing payload.
func (s *Sealer) Seal(payload map[string]any, encrypt bool) (*core.Envelope, error) {
	if encrypt {
		if len(s.key) == 0 {
			return nil, fmt.Errorf("encryption requested but no key configured")
		}
		enc, err := Encrypt(payload, s.key)
		if err != nil {
			return nil, err
		}
		payload = enc
	}
	env := core.NewEnvelope(payload)
	env.Encrypted = encrypt
	sig, err := Sign(env.Payload, s.secret)
	if err != nil {
		return nil, err
	}
	env.Signature = sig
	return env, nil
}

// Open verifies an inbound envelope: freshness first, then the signature,
// then (for encrypted envelopes) decryption. The signature must verify before
// any decryption is attempted so unauthenticated data is never decrypted. On
// success the payload is replaced in place by its plaintext form and the
// encrypted flag is cleared; this is the envelope's only permitted mutation.
//
// All failures are logged and reported as false rather than raised.
func (s *Sealer) Open(env *core.Envelope) bool {
	if err := env.Validate(s.now()); err != nil {
		s.logger.Warn("rejecting stale envelope", "envelope_id", env.ID, "error", err)
		return false
	}
	if !Verify(env.Payload, env.Signature, s.secret) {
		s.logger.Warn("envelope signature mismatch", "envelope_id", env.ID)
		return false
	}
	if env.Encrypted {
		plain, err := Decrypt(env.Payload, s.key)
		if err != nil {
			s.logger.Warn("envelope decryption failed", "envelope_id", env.ID, "error", err)
			return false
		}
		env.Payload = plain
		env.Encrypted = false
	}
	return true
}
