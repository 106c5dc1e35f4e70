package collectors

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket rate limiter for controlling request
// rates to external APIs. Limiters are owned one-per-collector; there is no
// cross-collector shared budget. The underlying rate.Limiter is
// goroutine-safe, but each collector drives its limiter from a single
// sequential request loop.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate of requests per second.
// burst is the maximum burst size.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// PerSecond creates a limiter allowing n requests per second with no burst,
// so consecutive Wait calls are spaced at least 1/n seconds apart.
func PerSecond(n float64) *RateLimiter {
	return NewRateLimiter(n, 1)
}

// PerMinute creates a limiter allowing n requests per minute with no burst.
func PerMinute(n float64) *RateLimiter {
	return NewRateLimiter(n/60.0, 1)
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a request is allowed without waiting,
// consuming one token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate updates the rate limit while preserving the current burst size.
// Used to adjust the rate dynamically based on API rate limit headers.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
