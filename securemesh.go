// Package securemesh provides a high-level façade over the secure
// inter-service communication core: envelope signing and encryption, a
// retrying communicator with per-target circuit breaking, a bounded
// in-process message queue and a multi-tier sliding-window rate limiter.
// Most applications interact with this package by:
//  1. Creating a SecureMesh via New() with a SecretStore supplying the
//     signing secret (and optionally an encryption key)
//  2. Sending requests with Send, which routes through the target's breaker
//  3. Exchanging in-process messages with Publish/Subscribe
//  4. Gating ingress with Allow (or mounting ratelimit.Middleware)
//
// The façade delegates to the comm, breaker, queue and ratelimit packages
// while keeping setup ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// secret store and a structured logger.
package securemesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/securemesh/breaker"
	"github.com/hupe1980/securemesh/comm"
	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/logging"
	"github.com/hupe1980/securemesh/queue"
	"github.com/hupe1980/securemesh/ratelimit"
	"github.com/hupe1980/securemesh/seal"
)

// DefaultSigningSecretName is the secret store entry holding the HMAC
// signing secret.
const DefaultSigningSecretName = "signing-secret"

// DefaultEncryptionKeyName is the secret store entry holding the optional
// payload encryption key.
const DefaultEncryptionKeyName = "encryption-key"

// Options configures the SecureMesh instance.
type Options struct {
	// SigningSecretName selects the secret store entry for the HMAC secret.
	SigningSecretName string
	// EncryptionKeyName selects the secret store entry for the payload
	// encryption key. A missing entry disables encryption support rather
	// than failing construction.
	EncryptionKeyName string

	// Limits are the ingress rate limit budgets.
	Limits ratelimit.Limits
	// QueueMaxSize bounds each message queue topic buffer.
	QueueMaxSize int

	// RequestTimeout bounds each outbound HTTP attempt.
	RequestTimeout time.Duration
	// MaxRetries is the outbound attempt budget.
	MaxRetries int

	// FailureThreshold trips a target's breaker after this many consecutive
	// failures.
	FailureThreshold int
	// RecoveryTimeout is how long a tripped breaker stays open before
	// admitting a trial call.
	RecoveryTimeout time.Duration

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// defaultOptions returns the baseline configuration applied before option
// functions and FromEnv overrides.
func defaultOptions() Options {
	return Options{
		SigningSecretName: DefaultSigningSecretName,
		EncryptionKeyName: DefaultEncryptionKeyName,
		Limits:            ratelimit.DefaultLimits(),
		QueueMaxSize:      1000,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
}

// SecureMesh is the high-level façade aggregating the communicator, queue,
// limiter and per-target circuit breakers.
type SecureMesh struct {
	opts         Options
	sealer       *seal.Sealer
	communicator *comm.Communicator
	queue        *queue.Queue
	limiter      *ratelimit.Limiter

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// New creates a SecureMesh, fetching the signing secret (and, when present,
// the encryption key) from the supplied store. Secrets are read once at
// construction; a rotation takes effect on the next New.
func New(ctx context.Context, store core.SecretStore, optFns ...func(o *Options)) (*SecureMesh, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	secret, err := store.Secret(ctx, opts.SigningSecretName)
	if err != nil {
		return nil, fmt.Errorf("fetch signing secret: %w", err)
	}
	key, err := store.Secret(ctx, opts.EncryptionKeyName)
	if err != nil {
		// Encryption is optional; without a key only signing is available.
		key = nil
	}

	sealer := seal.New(secret, key, func(o *seal.Options) { o.Logger = opts.Logger })

	return &SecureMesh{
		opts:   opts,
		sealer: sealer,
		communicator: comm.New(sealer, func(o *comm.Options) {
			o.RequestTimeout = opts.RequestTimeout
			o.MaxRetries = opts.MaxRetries
			o.Logger = opts.Logger
		}),
		queue: queue.New(func(o *queue.Options) {
			o.MaxSize = opts.QueueMaxSize
			o.Logger = opts.Logger
		}),
		limiter: ratelimit.New(func(o *ratelimit.Options) {
			o.Limits = opts.Limits
			o.Logger = opts.Logger
		}),
		breakers: make(map[string]*breaker.Breaker),
	}, nil
}

// Send dispatches a secure request to target through the target's circuit
// breaker. Repeated failures toward one target trip its breaker and fail
// subsequent calls fast with breaker.ErrOpen instead of waiting out timeouts.
func (m *SecureMesh) Send(ctx context.Context, target string, payload map[string]any, optFns ...func(o *comm.RequestOptions)) (map[string]any, error) {
	br := m.breakerFor(target)
	var result map[string]any
	err := br.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = m.communicator.SendSecureRequest(ctx, target, payload, optFns...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Publish appends an envelope to the named topic's buffer.
func (m *SecureMesh) Publish(topic string, env core.Envelope) { m.queue.Publish(topic, env) }

// PublishPayload seals payload into a signed envelope and publishes it.
func (m *SecureMesh) PublishPayload(topic string, payload map[string]any, encrypt bool) (*core.Envelope, error) {
	env, err := m.sealer.Seal(payload, encrypt)
	if err != nil {
		return nil, err
	}
	m.queue.Publish(topic, *env)
	return env, nil
}

// Subscribe registers a consumer on the named topic. See queue.Queue for the
// competitive consumption semantics.
func (m *SecureMesh) Subscribe(ctx context.Context, topic string) (<-chan core.Envelope, error) {
	return m.queue.Subscribe(ctx, topic)
}

// Allow checks and records an ingress request for identifier against the
// configured budgets.
func (m *SecureMesh) Allow(identifier string) (bool, ratelimit.Counts) {
	return m.limiter.Allow(identifier)
}

// Limiter exposes the ingress limiter, e.g. for mounting
// ratelimit.Middleware.
func (m *SecureMesh) Limiter() *ratelimit.Limiter { return m.limiter }

// Sealer exposes the envelope sealer for callers that construct or verify
// envelopes directly.
func (m *SecureMesh) Sealer() *seal.Sealer { return m.sealer }

// BreakerState reports the current breaker state for a target. Targets that
// have never been called report a closed breaker.
func (m *SecureMesh) BreakerState(target string) breaker.State {
	return m.breakerFor(target).State()
}

// Close releases the communicator's pooled transport connections.
func (m *SecureMesh) Close() { m.communicator.Close() }

// breakerFor lazily creates the breaker owning target's failure history.
func (m *SecureMesh) breakerFor(target string) *breaker.Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	br, ok := m.breakers[target]
	if !ok {
		br = breaker.New(func(o *breaker.Options) {
			o.Name = target
			o.FailureThreshold = m.opts.FailureThreshold
			o.RecoveryTimeout = m.opts.RecoveryTimeout
			o.Logger = m.opts.Logger
		})
		m.breakers[target] = br
	}
	return br
}
