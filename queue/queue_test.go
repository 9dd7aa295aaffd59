package queue

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/internal/testutil"
)

func envelope(key, value string) core.Envelope {
	return *testutil.NewEnvelopeBuilder().Payload(key, value).Build()
}

func TestQueueEvictsOldestBeyondCapacity(t *testing.T) {
	q := New(func(o *Options) { o.MaxSize = 2 })

	q.Publish("jobs", envelope("seq", "1"))
	q.Publish("jobs", envelope("seq", "2"))
	q.Publish("jobs", envelope("seq", "3"))

	if got := q.Len("jobs"); got != 2 {
		t.Fatalf("expected 2 buffered messages, got %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := q.Subscribe(ctx, "jobs")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	first := <-ch
	second := <-ch
	if first.Payload["seq"] != "2" || second.Payload["seq"] != "3" {
		t.Fatalf("expected messages 2 and 3 to survive, got %v and %v", first.Payload["seq"], second.Payload["seq"])
	}
}

func TestQueueSubscriberReceivesPublished(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := q.Subscribe(ctx, "events")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	env := envelope("action", "ping")
	q.Publish("events", env)

	select {
	case got := <-ch:
		if got.ID != env.ID || got.Payload["action"] != "ping" {
			t.Fatalf("unexpected envelope: %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the published envelope")
	}
}

func TestQueuePreservesPublishOrderForSingleSubscriber(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := q.Subscribe(ctx, "ordered")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	for _, v := range want {
		q.Publish("ordered", envelope("v", v))
	}
	for i, v := range want {
		select {
		case got := <-ch:
			if got.Payload["v"] != v {
				t.Fatalf("message %d: expected %q, got %v", i, v, got.Payload["v"])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestQueueCompetitiveConsumption(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, _ := q.Subscribe(ctx, "work")
	ch2, _ := q.Subscribe(ctx, "work")

	const n = 20
	for i := 0; i < n; i++ {
		q.Publish("work", envelope("v", "x"))
	}

	// Each message reaches exactly one of the two subscribers.
	seen := 0
	timeout := time.After(5 * time.Second)
	for seen < n {
		select {
		case <-ch1:
			seen++
		case <-ch2:
			seen++
		case <-timeout:
			t.Fatalf("received %d of %d messages before timeout", seen, n)
		}
	}

	if got := q.Len("work"); got != 0 {
		t.Fatalf("expected drained buffer, got %d", got)
	}
}

func TestQueueCancelDeregistersSubscriber(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := q.Subscribe(ctx, "events")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	cancel()

	// The channel closes once the subscriber deregisters.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				goto closed
			}
		case <-deadline:
			t.Fatal("channel never closed after cancellation")
		}
	}
closed:

	// Publishing afterwards buffers without waking anyone.
	q.Publish("events", envelope("action", "ping"))
	if got := q.Len("events"); got != 1 {
		t.Fatalf("expected 1 buffered message, got %d", got)
	}
}

func TestQueueTopicsIntrospection(t *testing.T) {
	q := New()
	q.Publish("a", envelope("k", "v"))
	q.Publish("b", envelope("k", "v"))

	topics := q.Topics()
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", topics)
	}
}
