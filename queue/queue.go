// Package queue provides a bounded in-process topic-keyed buffer carrying
// envelopes between producers and consumers inside the same process.
//
// Delivery is competitive, not broadcast: all subscribers on a topic drain
// the same shared buffer, so each message reaches at most one subscriber.
// This makes a topic a work queue. Consumers needing broadcast fan-out should
// subscribe each consumer to its own topic.
//
// Buffers are volatile; messages do not survive process restarts.
package queue

import (
	"context"
	"sync"

	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/logging"
)

// Options configures a Queue.
type Options struct {
	// MaxSize bounds each topic buffer. Publishing past capacity silently
	// evicts the oldest entries.
	MaxSize int
	// Logger receives publish/drop events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// subscriber holds one consumer's wake signal. The channel has capacity one
// so repeated publishes coalesce into a single pending wake.
type subscriber struct {
	wake chan struct{}
}

// topic pairs a shared message buffer with the wake signals of its
// current subscribers.
type topic struct {
	buf  []core.Envelope
	subs map[*subscriber]struct{}
}

// Queue is a mutex-guarded in-process publish/subscribe buffer. It is safe
// for concurrent use.
type Queue struct {
	mu      sync.Mutex
	topics  map[string]*topic
	maxSize int
	logger  logging.Logger
}

// Compile-time interface assertions.
var (
	_ core.Publisher  = (*Queue)(nil)
	_ core.Subscriber = (*Queue)(nil)
)

// New creates a Queue with a default per-topic capacity of 1000 envelopes.
func New(optFns ...func(o *Options)) *Queue {
	opts := Options{MaxSize: 1000, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Queue{topics: make(map[string]*topic), maxSize: opts.MaxSize, logger: opts.Logger}
}

// Publish appends env to the topic's buffer, evicting the oldest entries
// beyond capacity, then wakes every registered subscriber.
func (q *Queue) Publish(name string, env core.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.topicLocked(name)
	t.buf = append(t.buf, env)
	if dropped := len(t.buf) - q.maxSize; dropped > 0 {
		t.buf = append(t.buf[:0:0], t.buf[dropped:]...)
		q.logger.Warn("topic buffer full, dropped oldest messages", "topic", name, "dropped", dropped)
	}
	q.logger.Debug("published message", "topic", name, "envelope_id", env.ID, "buffered", len(t.buf))

	for sub := range t.subs {
		select {
		case sub.wake <- struct{}{}:
		default: // wake already pending
		}
	}
}

// Subscribe registers a consumer on the topic and returns a channel of
// envelopes. The consumer drains the topic's shared buffer whenever woken,
// competing with other subscribers for each message. Cancelling ctx
// deregisters the wake signal and closes the channel.
func (q *Queue) Subscribe(ctx context.Context, name string) (<-chan core.Envelope, error) {
	sub := &subscriber{wake: make(chan struct{}, 1)}

	q.mu.Lock()
	q.topicLocked(name).subs[sub] = struct{}{}
	q.mu.Unlock()

	out := make(chan core.Envelope)
	go func() {
		defer close(out)
		defer q.unsubscribe(name, sub)
		for {
			env, ok := q.pop(name)
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-sub.wake:
				}
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len returns the number of undelivered envelopes buffered for the topic.
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.topics[name]; ok {
		return len(t.buf)
	}
	return 0
}

// Topics returns the names of all topics that currently exist.
func (q *Queue) Topics() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.topics))
	for name := range q.topics {
		names = append(names, name)
	}
	return names
}

// pop removes and returns the oldest buffered envelope for the topic.
func (q *Queue) pop(name string) (core.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok || len(t.buf) == 0 {
		return core.Envelope{}, false
	}
	env := t.buf[0]
	t.buf = append(t.buf[:0:0], t.buf[1:]...)
	return env, true
}

// unsubscribe removes the consumer's wake signal so a dead consumer is never
// notified. Empty topics with no subscribers are evicted.
func (q *Queue) unsubscribe(name string, sub *subscriber) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok {
		return
	}
	delete(t.subs, sub)
	if len(t.subs) == 0 && len(t.buf) == 0 {
		delete(q.topics, name)
	}
}

// topicLocked returns the topic, creating it lazily. Caller must hold the lock.
func (q *Queue) topicLocked(name string) *topic {
	t, ok := q.topics[name]
	if !ok {
		t = &topic{subs: make(map[*subscriber]struct{})}
		q.topics[name] = t
	}
	return t
}
