package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// MiddlewareOptions configures the echo middleware.
type MiddlewareOptions struct {
	// IdentifierFunc extracts the rate limit identifier from a request.
	// Defaults to the client IP.
	IdentifierFunc func(c echo.Context) string
}

// Middleware mounts the limiter as an echo request dependency. Every request
// is checked against the limiter's budgets; denied requests receive a 429
// with a Retry-After header derived from the limiter's reset times, matching
// the peer contract the communicator honors on the client side.
//
// Count headers (X-RateLimit-Minute/Hour/Day) are attached to every response.
func Middleware(l *Limiter, optFns ...func(o *MiddlewareOptions)) echo.MiddlewareFunc {
	opts := MiddlewareOptions{
		IdentifierFunc: func(c echo.Context) string { return c.RealIP() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := opts.IdentifierFunc(c)
			allowed, counts := l.Allow(id)

			h := c.Response().Header()
			h.Set("X-RateLimit-Minute", strconv.Itoa(counts.Minute))
			h.Set("X-RateLimit-Hour", strconv.Itoa(counts.Hour))
			h.Set("X-RateLimit-Day", strconv.Itoa(counts.Day))

			if !allowed {
				retryAfter := retryAfterSeconds(l, id, counts)
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":       "rate_limited",
					"retry_after": retryAfter,
					"counts": map[string]int{
						"minute": counts.Minute,
						"hour":   counts.Hour,
						"day":    counts.Day,
					},
				})
			}
			return next(c)
		}
	}
}

// retryAfterSeconds returns how long the client must wait until every
// exceeded window has capacity again, rounded up to whole seconds with a
// floor of 1.
func retryAfterSeconds(l *Limiter, identifier string, counts Counts) int {
	limits := l.Limits()
	resets := l.ResetTimes(identifier)
	now := time.Now()

	var until time.Time
	if counts.Minute >= limits.PerMinute && resets.Minute.After(until) {
		until = resets.Minute
	}
	if counts.Hour >= limits.PerHour && resets.Hour.After(until) {
		until = resets.Hour
	}
	if counts.Day >= limits.PerDay && resets.Day.After(until) {
		until = resets.Day
	}

	secs := int(math.Ceil(until.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
