package simpleassets

import (
	"context"
	"time"
)

// RetryPolicy runs an operation a bounded number of times.
//
// Delay is the wait before the second attempt. With Multiplier > 1 each
// following wait grows by that factor, capped at MaxDelay when set. A nil
// Retryable treats every error as retryable.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// FixedRetry returns a policy polling at a fixed interval.
func FixedRetry(maxAttempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: delay}
}

// Do calls op until it succeeds, returns a terminal error, or the attempts run
// out. Terminal errors are returned unchanged. Exhaustion and context
// cancellation during a wait yield a *RetryError carrying the attempt count.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		lastErr = err
		if i == attempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return &RetryError{Attempts: i, Err: err}
		}
		delay = p.next(delay)
	}
	return &RetryError{Attempts: attempts, Err: lastErr}
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return d
	}
	d = time.Duration(float64(d) * p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
