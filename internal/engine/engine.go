// Package engine holds the plumbing shared by the remote extraction engines:
// retry with backoff and request pacing.
package engine

import (
	"context"

	"golang.org/x/time/rate"
)

// NewLimiter returns a token bucket allowing perSecond requests with the
// given burst. perSecond <= 0 disables pacing.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Pace blocks until the limiter admits one request or ctx is done.
func Pace(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
