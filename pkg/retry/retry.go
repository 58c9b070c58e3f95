// Package retry wraps a single upstream attempt with attempt bounds,
// per-class policy, and exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// Executor retries a function according to the configured policy and the
// transport class of each failure:
//
//	rate_limit        retry with backoff, honoring provider Retry-After
//	server_error      retry with backoff
//	timeout           retry once, next attempt gets a doubled timeout budget
//	connection_error  retry with backoff
//	validation        retry once immediately, if enabled
//	auth              fail fast
//	not_found         fail fast
//	unknown           retry with backoff
type Executor struct {
	cfg    *config.RetryConfig
	logger *slog.Logger
}

// New creates an executor.
func New(cfg *config.RetryConfig, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		logger: logger.With("component", "retry_executor"),
	}
}

// Do runs fn until it succeeds, the attempt budget is spent, or the failure
// class rules out another try. Each attempt runs under its own timeout; a
// cancellation of ctx short-circuits remaining waits and attempts.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var (
		lastErr           error
		timeoutRetried    bool
		validationRetried bool
		timeout           = e.cfg.AttemptTimeout
	)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		// A containing cancellation ends everything, regardless of what the
		// attempt itself reported.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fault.Terminal(ctxErr)
		}

		class := fault.ClassOf(err)
		if attempt == e.cfg.MaxAttempts {
			break
		}

		var delay time.Duration
		switch class {
		case fault.ClassAuth, fault.ClassNotFound:
			return err

		case fault.ClassValidation:
			if !e.cfg.ValidationRetryEnabled() || validationRetried {
				return err
			}
			validationRetried = true
			// Immediate retry; the request may have been mangled in transit.

		case fault.ClassTimeout:
			if timeoutRetried {
				return err
			}
			timeoutRetried = true
			timeout *= 2
			delay = e.backoffDelay(attempt - 1)

		case fault.ClassRateLimit:
			delay = e.backoffDelay(attempt - 1)
			if retryAfter := fault.RetryAfterOf(err); retryAfter > delay {
				delay = retryAfter
			}
			if delay > e.cfg.MaxDelay {
				delay = e.cfg.MaxDelay
			}

		default:
			delay = e.backoffDelay(attempt - 1)
		}

		e.logger.Warn("Attempt failed, retrying",
			"operation", op, "attempt", attempt, "max_attempts", e.cfg.MaxAttempts,
			"class", class, "delay", delay, "error", err)

		if delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	e.logger.Warn("Attempts exhausted",
		"operation", op, "attempts", e.cfg.MaxAttempts, "error", lastErr)
	return lastErr
}

// backoffDelay computes min(base·2^n, max) with symmetric jitter, clamped so
// no single sleep exceeds the configured maximum.
func (e *Executor) backoffDelay(n int) time.Duration {
	delay := time.Duration(float64(e.cfg.BaseDelay) * math.Pow(2, float64(n)))
	if delay > e.cfg.MaxDelay || delay <= 0 {
		delay = e.cfg.MaxDelay
	}

	if j := e.cfg.JitterFraction; j > 0 {
		factor := 1 + (rand.Float64()*2-1)*j
		delay = time.Duration(float64(delay) * factor)
	}
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is cancelled.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fault.Terminal(ctx.Err())
	case <-timer.C:
		return nil
	}
}
