package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/jg-phare/gshell/pkg/types"
)

// WithRetry invokes call, retrying with exponential backoff while call
// fails with a retryable *types.Error (Throttled or Transient per
// Kind.Retryable). Backoff starts at InitialBackoff, grows by
// BackoffFactor per attempt, and is capped at MaxBackoff; at most
// MaxAttempts total attempts are made.
func (c *Controller) WithRetry(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))
			if backoff > float64(c.MaxBackoff) {
				backoff = float64(c.MaxBackoff)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(backoff)):
			}
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		te, ok := err.(*types.Error)
		if !ok || !te.Kind.Retryable() {
			return err
		}
	}

	return types.Wrap(types.KindRateExceeded, "retries exhausted", lastErr)
}
