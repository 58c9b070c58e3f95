package backend

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// RateLimiter enforces a model's provider traffic caps with two token
// buckets refilled per minute: one counting requests, one counting estimated
// tokens. A zero limit disables the corresponding bucket.
type RateLimiter struct {
	rpm *rate.Limiter
	tpm *rate.Limiter
}

// NewRateLimiter creates the bucket pair from model configuration.
func NewRateLimiter(rl config.RateLimit) *RateLimiter {
	l := &RateLimiter{}
	if rl.RequestsPerMinute > 0 {
		l.rpm = rate.NewLimiter(rate.Limit(float64(rl.RequestsPerMinute)/60.0), rl.RequestsPerMinute)
	}
	if rl.TokensPerMinute > 0 {
		l.tpm = rate.NewLimiter(rate.Limit(float64(rl.TokensPerMinute)/60.0), rl.TokensPerMinute)
	}
	return l
}

// Wait blocks until both buckets admit a request of the estimated size, or
// the context ends. Estimates above the token bucket's burst are clamped so
// oversized requests wait for a full bucket instead of failing outright.
func (l *RateLimiter) Wait(ctx context.Context, estTokens int) error {
	if l.rpm != nil {
		if err := l.rpm.Wait(ctx); err != nil {
			return waitFault(ctx, err)
		}
	}
	if l.tpm != nil {
		n := estTokens
		if n < 1 {
			n = 1
		}
		if burst := l.tpm.Burst(); n > burst {
			n = burst
		}
		if err := l.tpm.WaitN(ctx, n); err != nil {
			return waitFault(ctx, err)
		}
	}
	return nil
}

// waitFault distinguishes a cancelled caller from a wait the deadline cannot
// accommodate; the latter is a local rate-limit rejection.
func waitFault(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fault.Terminal(ctx.Err())
	}
	return fault.Wrap(fault.RateLimit, "model rate limit cannot admit request before deadline", err)
}
