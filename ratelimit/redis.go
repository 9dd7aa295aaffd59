package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/logging"
)

// RedisOptions configures a RedisLimiter.
type RedisOptions struct {
	// Limits are the default budgets applied by Allow.
	Limits Limits
	// KeyPrefix namespaces limiter keys in the shared Redis keyspace.
	KeyPrefix string
	// Logger receives rate limit decisions. Defaults to NoOpLogger.
	Logger logging.Logger
}

// RedisLimiter implements the sliding-window decision contract against Redis
// sorted sets, letting many worker processes share one quota per identifier.
// Each identifier/window pair maps to a sorted set scored by request time;
// pruning is a ZRemRangeByScore and counting a ZCard.
type RedisLimiter struct {
	client redis.UniversalClient
	limits Limits
	prefix string
	logger logging.Logger
	now    func() time.Time
}

// NewRedis creates a RedisLimiter on top of an existing client. The client is
// shared, not owned: closing it remains the caller's responsibility.
func NewRedis(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisLimiter {
	opts := RedisOptions{Limits: DefaultLimits(), KeyPrefix: "securemesh:ratelimit", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisLimiter{
		client: client,
		limits: opts.Limits,
		prefix: opts.KeyPrefix,
		logger: opts.Logger,
		now:    time.Now,
	}
}

// Limits returns the limiter's default budgets.
func (l *RedisLimiter) Limits() Limits { return l.limits }

type window struct {
	name string
	dur  time.Duration
}

var windows = []window{
	{name: "minute", dur: minuteWindow},
	{name: "hour", dur: hourWindow},
	{name: "day", dur: dayWindow},
}

// Allow checks and, when within budget, records a request for identifier
// using the limiter's default limits.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, Counts, error) {
	return l.AllowWithLimits(ctx, identifier, l.limits)
}

// AllowWithLimits is Allow with per-call budget overrides. As with the
// in-memory limiter, a request is recorded in all windows or none.
func (l *RedisLimiter) AllowWithLimits(ctx context.Context, identifier string, limits Limits) (bool, Counts, error) {
	now := l.now()

	pipe := l.client.Pipeline()
	cards := make([]*redis.IntCmd, len(windows))
	for i, w := range windows {
		key := l.key(identifier, w.name)
		cutoff := now.Add(-w.dur)
		pipe.ZRemRangeByScore(ctx, key, "0", formatScore(cutoff))
		cards[i] = pipe.ZCard(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, Counts{}, fmt.Errorf("rate limit check for %q: %w", identifier, err)
	}

	counts := Counts{
		Minute: int(cards[0].Val()),
		Hour:   int(cards[1].Val()),
		Day:    int(cards[2].Val()),
	}
	if counts.Minute >= limits.PerMinute || counts.Hour >= limits.PerHour || counts.Day >= limits.PerDay {
		l.logger.Warn("rate limit exceeded", "identifier", identifier,
			"minute", counts.Minute, "hour", counts.Hour, "day", counts.Day)
		return false, counts, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), core.NewID())
	record := l.client.Pipeline()
	for _, w := range windows {
		key := l.key(identifier, w.name)
		record.ZAdd(ctx, key, redis.Z{Score: score(now), Member: member})
		record.Expire(ctx, key, w.dur)
	}
	if _, err := record.Exec(ctx); err != nil {
		return false, counts, fmt.Errorf("rate limit record for %q: %w", identifier, err)
	}

	counts.Minute++
	counts.Hour++
	counts.Day++
	return true, counts, nil
}

// ResetTimes computes, per window, when the oldest recorded request for
// identifier ages out. With no recorded requests all reset times equal now.
func (l *RedisLimiter) ResetTimes(ctx context.Context, identifier string) (ResetTimes, error) {
	now := l.now()
	rt := ResetTimes{Minute: now, Hour: now, Day: now}

	for i, w := range windows {
		key := l.key(identifier, w.name)
		cutoff := now.Add(-w.dur)
		if err := l.client.ZRemRangeByScore(ctx, key, "0", formatScore(cutoff)).Err(); err != nil {
			return rt, fmt.Errorf("reset time prune for %q: %w", identifier, err)
		}
		oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return rt, fmt.Errorf("reset time lookup for %q: %w", identifier, err)
		}
		if len(oldest) == 0 {
			continue
		}
		reset := timeFromScore(oldest[0].Score).Add(w.dur)
		switch i {
		case 0:
			rt.Minute = reset
		case 1:
			rt.Hour = reset
		case 2:
			rt.Day = reset
		}
	}
	return rt, nil
}

func (l *RedisLimiter) key(identifier, window string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, identifier, window)
}

func score(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func formatScore(t time.Time) string { return fmt.Sprintf("%f", score(t)) }

func timeFromScore(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}
