// Package ratelimit implements a per-identifier sliding-window rate limiter
// across three time horizons (minute, hour, day). Two backends share one
// decision contract: an in-memory Limiter for a single process and a
// RedisLimiter for fleets of workers sharing quota.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hupe1980/securemesh/logging"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour

	// cleanupInterval bounds the cost of pruning: a full sweep over all
	// identifiers runs at most once per interval.
	cleanupInterval = 5 * time.Minute
)

// Limits holds the per-identifier request budgets for each window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// DefaultLimits returns the standard budgets: 60 requests per minute, 1000
// per hour and 10000 per day.
func DefaultLimits() Limits {
	return Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000}
}

// Counts reports how many requests are currently recorded in each window.
type Counts struct {
	Minute int
	Hour   int
	Day    int
}

// ResetTimes reports, per window, when the oldest recorded request expires.
// Windows with no recorded requests reset immediately.
type ResetTimes struct {
	Minute time.Time
	Hour   time.Time
	Day    time.Time
}

// record holds one identifier's request timestamps, one ordered list per
// window. Records are created lazily and evicted when a cleanup pass leaves
// them empty.
type record struct {
	minute []time.Time
	hour   []time.Time
	day    []time.Time
}

func (r *record) empty() bool {
	return len(r.minute) == 0 && len(r.hour) == 0 && len(r.day) == 0
}

// Options configures a Limiter.
type Options struct {
	// Limits are the default budgets applied by Allow. Individual checks may
	// override them via AllowWithLimits.
	Limits Limits
	// Logger receives rate limit decisions. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Limiter is a mutex-guarded in-memory sliding-window rate limiter. It is
// safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	records     map[string]*record
	lastCleanup time.Time

	limits Limits
	logger logging.Logger
	now    func() time.Time
}

// New creates a Limiter with DefaultLimits unless overridden.
func New(optFns ...func(o *Options)) *Limiter {
	opts := Options{Limits: DefaultLimits(), Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	l := &Limiter{
		records: make(map[string]*record),
		limits:  opts.Limits,
		logger:  opts.Logger,
		now:     time.Now,
	}
	l.lastCleanup = l.now()
	return l
}

// Limits returns the limiter's default budgets.
func (l *Limiter) Limits() Limits { return l.limits }

// Allow checks and, when within budget, records a request for identifier
// using the limiter's default limits. The returned counts include the request
// just recorded when allowed; on denial they report the existing counts and
// nothing is recorded.
func (l *Limiter) Allow(identifier string) (bool, Counts) {
	return l.AllowWithLimits(identifier, l.limits)
}

// AllowWithLimits is Allow with per-call budget overrides.
//
// A request is recorded only when all three windows are within budget; a
// denial never partially records. A check that fails a tighter window still
// reports accurate counts for the looser ones.
func (l *Limiter) AllowWithLimits(identifier string, limits Limits) (bool, Counts) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) >= cleanupInterval {
		l.cleanupLocked(now)
	}

	rec, ok := l.records[identifier]
	if !ok {
		rec = &record{}
		l.records[identifier] = rec
	}

	rec.minute = prune(rec.minute, now.Add(-minuteWindow))
	rec.hour = prune(rec.hour, now.Add(-hourWindow))
	rec.day = prune(rec.day, now.Add(-dayWindow))

	counts := Counts{Minute: len(rec.minute), Hour: len(rec.hour), Day: len(rec.day)}
	if counts.Minute >= limits.PerMinute || counts.Hour >= limits.PerHour || counts.Day >= limits.PerDay {
		l.logger.Warn("rate limit exceeded", "identifier", identifier,
			"minute", counts.Minute, "hour", counts.Hour, "day", counts.Day)
		return false, counts
	}

	rec.minute = append(rec.minute, now)
	rec.hour = append(rec.hour, now)
	rec.day = append(rec.day, now)
	counts.Minute++
	counts.Hour++
	counts.Day++
	return true, counts
}

// ResetTimes computes, per window, when the oldest recorded request for
// identifier ages out. With no recorded requests all reset times equal now.
func (l *Limiter) ResetTimes(identifier string) ResetTimes {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rt := ResetTimes{Minute: now, Hour: now, Day: now}
	rec, ok := l.records[identifier]
	if !ok {
		return rt
	}

	rec.minute = prune(rec.minute, now.Add(-minuteWindow))
	rec.hour = prune(rec.hour, now.Add(-hourWindow))
	rec.day = prune(rec.day, now.Add(-dayWindow))

	if len(rec.minute) > 0 {
		rt.Minute = rec.minute[0].Add(minuteWindow)
	}
	if len(rec.hour) > 0 {
		rt.Hour = rec.hour[0].Add(hourWindow)
	}
	if len(rec.day) > 0 {
		rt.Day = rec.day[0].Add(dayWindow)
	}
	return rt
}

// cleanupLocked drops entries older than the longest window from every
// identifier and evicts identifiers left with no entries at all. Caller must
// hold the lock.
func (l *Limiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-dayWindow)
	for id, rec := range l.records {
		rec.minute = prune(rec.minute, cutoff)
		rec.hour = prune(rec.hour, cutoff)
		rec.day = prune(rec.day, cutoff)
		if rec.empty() {
			delete(l.records, id)
		}
	}
	l.lastCleanup = now
	l.logger.Debug("rate limiter cleanup completed", "identifiers", len(l.records))
}

// prune returns the suffix of timestamps strictly newer than cutoff.
// Timestamps are appended in order, so the list is already sorted.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
