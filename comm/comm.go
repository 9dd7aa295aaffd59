// Package comm implements the secure communicator: it wraps payloads into
// signed (optionally encrypted) envelopes, dispatches them over a pooled HTTP
// transport, and handles peer rate-limit signals, retries with exponential
// backoff, and graceful degradation when response verification fails.
//
// The communicator deliberately does not instantiate circuit breakers; for
// cross-request resilience callers wrap SendSecureRequest through a
// breaker.Breaker they own, one per logical remote target (the SecureMesh
// façade does exactly this).
package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/logging"
	"github.com/hupe1980/securemesh/seal"
)

const (
	// HeaderSecureMessage marks a request body as a secure envelope.
	HeaderSecureMessage = "X-Secure-Message"
	// HeaderTimestamp carries the envelope timestamp for intermediary
	// logging and metrics. Verification re-reads the body, never this header.
	HeaderTimestamp = "X-Message-Timestamp"
)

// Options configures a Communicator.
type Options struct {
	// RequestTimeout bounds each individual HTTP attempt.
	RequestTimeout time.Duration
	// MaxRetries is the attempt budget for transport failures and non-2xx
	// statuses. Peer rate limiting (429) does not consume it.
	MaxRetries int
	// DefaultRetryAfter is the sleep applied to a 429 response without a
	// Retry-After header.
	DefaultRetryAfter time.Duration
	// HTTPClient overrides the internally constructed pooled client.
	HTTPClient *http.Client
	// Logger receives per-attempt and backoff events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// RequestOptions configures a single SendSecureRequest call.
type RequestOptions struct {
	// Method is the HTTP method, defaulting to POST.
	Method string
	// Encrypt enables payload encryption before signing.
	Encrypt bool
}

// Communicator sends secure envelopes to remote targets. The underlying
// pooled transport session is exclusively owned by the Communicator for its
// lifetime; release it with Close.
type Communicator struct {
	client            *http.Client
	sealer            *seal.Sealer
	maxRetries        int
	defaultRetryAfter time.Duration
	logger            logging.Logger
	sleep             func(ctx context.Context, d time.Duration) error
}

// New creates a Communicator bound to a sealer, with a 30 second per-attempt
// timeout and 3 attempts unless overridden.
func New(sealer *seal.Sealer, optFns ...func(o *Options)) *Communicator {
	opts := Options{
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		DefaultRetryAfter: 60 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.RequestTimeout}
	}
	return &Communicator{
		client:            client,
		sealer:            sealer,
		maxRetries:        opts.MaxRetries,
		defaultRetryAfter: opts.DefaultRetryAfter,
		logger:            opts.Logger,
		sleep:             sleepCtx,
	}
}

// Close releases the communicator's pooled transport connections.
func (c *Communicator) Close() { c.client.CloseIdleConnections() }

// SendSecureRequest wraps payload into a signed envelope and dispatches it to
// target, returning the response payload.
//
// Peer 429 responses are honored by sleeping the advertised Retry-After
// (default 60 s) and retrying without consuming the retry budget. Any other
// non-2xx status or transport failure is retried with exponential backoff
// (2^attempt seconds); once the budget is exhausted the last error is
// surfaced as a *core.TransportError.
//
// When the 2xx response body is itself a signed envelope it is verified and
// its (decrypted) payload returned. Verification failure degrades gracefully:
// the unverified body is logged and returned rather than failing the call,
// since the request itself succeeded.
func (c *Communicator) SendSecureRequest(ctx context.Context, target string, payload map[string]any, optFns ...func(o *RequestOptions)) (map[string]any, error) {
	ro := RequestOptions{Method: http.MethodPost}
	for _, fn := range optFns {
		fn(&ro)
	}

	env, err := c.sealer.Seal(payload, ro.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	var (
		attempt    int
		lastErr    error
		lastStatus int
	)
	for {
		res, err := c.dispatch(ctx, ro.Method, target, env, body, attempt)

		switch {
		case err == nil && res.status >= 200 && res.status < 300:
			return c.decodeResponse(target, res.body), nil

		case err == nil && res.status == http.StatusTooManyRequests:
			delay := c.retryAfterDelay(res.retryAfter)
			c.logger.Info("peer rate limited, honoring advertised delay", "target", target, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue // a 429 retry does not consume the backoff budget

		case err == nil:
			lastErr = fmt.Errorf("unexpected status %d", res.status)
			lastStatus = res.status

		default:
			lastErr = err
			lastStatus = 0
		}

		delay := time.Duration(1<<uint(attempt)) * time.Second
		attempt++
		if attempt >= c.maxRetries {
			terr := &core.TransportError{Target: target, StatusCode: lastStatus, Attempts: attempt, Err: lastErr}
			c.logger.Error("request failed after exhausting retries", "target", target, "attempts", attempt, "error", lastErr)
			return nil, terr
		}
		c.logger.Info("retrying after backoff", "target", target, "attempt", attempt, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attemptResult snapshots the pieces of a response the retry loop needs
// after the body has been closed.
type attemptResult struct {
	status     int
	body       []byte
	retryAfter string
}

// dispatch performs one HTTP attempt. The pre-marshaled body is reused so
// every attempt resends identical envelope bytes.
func (c *Communicator) dispatch(ctx context.Context, method, target string, env *core.Envelope, body []byte, attempt int) (attemptResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return attemptResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSecureMessage, "true")
	req.Header.Set(HeaderTimestamp, strconv.FormatFloat(env.UnixSeconds(), 'f', -1, 64))

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("request attempt failed", "target", target, "method", method, "attempt", attempt, "duration", time.Since(start), "error", err)
		return attemptResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{}, fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("request attempt completed", "target", target, "method", method, "attempt", attempt, "status", resp.StatusCode, "duration", time.Since(start))
	return attemptResult{status: resp.StatusCode, body: respBody, retryAfter: resp.Header.Get("Retry-After")}, nil
}

// decodeResponse interprets a 2xx body. Signed envelopes are verified and
// unwrapped; anything else is returned as-is.
func (c *Communicator) decodeResponse(target string, body []byte) map[string]any {
	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		c.logger.Debug("response body is not JSON, returning raw", "target", target)
		return map[string]any{"raw": string(body)}
	}

	_, hasPayload := generic["payload"]
	sig, hasSignature := generic["signature"]
	if !hasPayload || !hasSignature || sig == nil {
		return generic
	}

	var env core.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Warn("response looks like an envelope but does not decode, returning unverified body", "target", target, "error", err)
		return generic
	}
	if !c.sealer.Open(&env) {
		verr := &core.VerificationError{Reason: "response envelope failed verification"}
		c.logger.Warn("returning unverified response body", "target", target, "error", verr)
		return generic
	}
	return env.Payload
}

// retryAfterDelay parses a Retry-After header value in seconds, falling back
// to the configured default when absent or malformed.
func (c *Communicator) retryAfterDelay(header string) time.Duration {
	if header == "" {
		return c.defaultRetryAfter
	}
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs < 0 {
		return c.defaultRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
