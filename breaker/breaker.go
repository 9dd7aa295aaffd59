// Package breaker implements a three-state circuit breaker used to shed load
// toward failing remote targets. It is a reusable primitive with no knowledge
// of the transport it guards: callers wrap an arbitrary call in Do.
//
// State machine:
//
//	Closed    calls pass through; failures increment a counter and trip the
//	          breaker to Open once the threshold is reached
//	Open      calls fail fast with ErrOpen until the recovery timeout elapses
//	HalfOpen  exactly one trial call is attempted; success closes the breaker,
//	          failure re-opens it
//
// A Breaker instance is owned exclusively by whichever caller constructs it,
// typically one per logical remote target. Sharing one instance across
// unrelated call sites conflates their failure histories.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/securemesh/logging"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
// The wrapped function is not invoked.
var ErrOpen = fmt.Errorf("circuit breaker open")

// State enumerates the breaker states.
type State int

const (
	// StateClosed passes calls through while counting failures.
	StateClosed State = iota
	// StateOpen rejects calls without invoking the wrapped function.
	StateOpen
	// StateHalfOpen admits a single trial call after the recovery timeout.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Options configures a Breaker.
type Options struct {
	// Name identifies the breaker in logs, typically the guarded target.
	Name string
	// FailureThreshold is the consecutive failure count that trips the
	// breaker from closed to open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before admitting a
	// half-open trial call.
	RecoveryTimeout time.Duration
	// IsFailure classifies errors returned by the wrapped call. Errors for
	// which it returns false pass through without affecting breaker state.
	// Defaults to counting every non-nil error.
	IsFailure func(error) bool
	// Logger receives state transition events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Breaker is a mutex-guarded circuit breaker state machine. It is safe for
// concurrent use.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	lastFailure      time.Time
	halfOpenInFlight bool

	threshold int
	recovery  time.Duration
	isFailure func(error) bool
	logger    logging.Logger
	now       func() time.Time
}

// New creates a Breaker in the closed state with defaults of 5 failures and a
// 60 second recovery timeout.
func New(optFns ...func(o *Options)) *Breaker {
	opts := Options{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		IsFailure:        func(err error) bool { return err != nil },
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Breaker{
		name:      opts.Name,
		threshold: opts.FailureThreshold,
		recovery:  opts.RecoveryTimeout,
		isFailure: opts.IsFailure,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Do executes fn through the breaker. When the breaker is open and the
// recovery timeout has not elapsed, fn is not invoked and Do returns ErrOpen
// (wrapped with the breaker name). Success resets the failure count; failure
// counts toward the threshold or re-opens a half-open breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// before admits or rejects the call, transitioning open to half-open when the
// recovery timeout has elapsed.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.recovery {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.transition(StateHalfOpen)
		b.halfOpenInFlight = true
	case StateHalfOpen:
		// Only one trial call is admitted at a time.
		if b.halfOpenInFlight {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.halfOpenInFlight = true
	}
	return nil
}

// after records the call outcome.
func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenInFlight = false
	}

	if !b.isFailure(err) {
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failureCount >= b.threshold {
			b.transition(StateOpen)
		}
	}
}

// transition moves to next and logs the change. Caller must hold the lock.
func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next
	b.logger.Warn("circuit breaker transition",
		"breaker", b.name, "from", prev.String(), "to", next.String(), "failure_count", b.failureCount)
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
