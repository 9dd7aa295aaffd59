package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, limits Limits) (*RedisLimiter, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedis(client, func(o *RedisOptions) { o.Limits = limits })
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l.now = clock.now
	return l, clock
}

func TestRedisLimiterMinuteWindow(t *testing.T) {
	l, clock := newTestRedisLimiter(t, Limits{PerMinute: 2, PerHour: 1000, PerDay: 10000})
	ctx := context.Background()

	allowed, counts, err := l.Allow(ctx, "X")
	require.NoError(t, err)
	require.True(t, allowed)
	assert.Equal(t, 1, counts.Minute)

	allowed, _, err = l.Allow(ctx, "X")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, counts, err = l.Allow(ctx, "X")
	require.NoError(t, err)
	require.False(t, allowed)
	assert.Equal(t, 2, counts.Minute, "denied request is not counted")

	// The sorted-set prune uses the limiter clock, so advancing it ages the
	// oldest entries out of the minute window.
	clock.advance(61 * time.Second)
	allowed, counts, err = l.Allow(ctx, "X")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, counts.Minute)
	assert.Equal(t, 3, counts.Hour)
}

func TestRedisLimiterIdentifierIsolation(t *testing.T) {
	l, _ := newTestRedisLimiter(t, Limits{PerMinute: 1, PerHour: 1000, PerDay: 10000})
	ctx := context.Background()

	allowed, _, err := l.Allow(ctx, "A")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = l.Allow(ctx, "B")
	require.NoError(t, err)
	assert.True(t, allowed, "B starts with a full budget")

	allowed, _, err = l.Allow(ctx, "A")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisLimiterResetTimes(t *testing.T) {
	l, clock := newTestRedisLimiter(t, DefaultLimits())
	ctx := context.Background()

	rt, err := l.ResetTimes(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, clock.t, rt.Minute)

	_, _, err = l.Allow(ctx, "X")
	require.NoError(t, err)

	rt, err = l.ResetTimes(ctx, "X")
	require.NoError(t, err)
	assert.WithinDuration(t, clock.t.Add(time.Minute), rt.Minute, time.Second)
	assert.WithinDuration(t, clock.t.Add(time.Hour), rt.Hour, time.Second)
	assert.WithinDuration(t, clock.t.Add(24*time.Hour), rt.Day, time.Second)
}

func TestRedisLimiterSharedQuotaAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientA.Close(); _ = clientB.Close() })

	limits := Limits{PerMinute: 2, PerHour: 1000, PerDay: 10000}
	la := NewRedis(clientA, func(o *RedisOptions) { o.Limits = limits })
	lb := NewRedis(clientB, func(o *RedisOptions) { o.Limits = limits })
	ctx := context.Background()

	// Two worker processes draining the same identifier share one budget.
	allowed, _, err := la.Allow(ctx, "X")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = lb.Allow(ctx, "X")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = la.Allow(ctx, "X")
	require.NoError(t, err)
	assert.False(t, allowed)
}
