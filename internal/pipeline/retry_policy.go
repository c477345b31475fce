package pipeline

import (
	"context"
	"fmt"
	"time"
)

// BackoffStrategy controls how the delay between transient-error
// retries grows (§7 "Transient model/persistence error").
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffExponential BackoffStrategy = "exponential"
)

// TransientRetryPolicy governs the small backoff cap applied inside a
// model/persistence client call, independent of the stage-level
// validation retry budget (§7: these count against the stage retry
// budget only once they're exhausted).
type TransientRetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffStrategy
}

// DefaultTransientRetryPolicy is a conservative small-cap backoff for
// model/persistence calls.
func DefaultTransientRetryPolicy() *TransientRetryPolicy {
	return &TransientRetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    250 * time.Millisecond,
		MaxDelay:        4 * time.Second,
		BackoffStrategy: BackoffExponential,
	}
}

func (rp *TransientRetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := rp.InitialDelay
	if rp.BackoffStrategy == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > rp.MaxDelay {
				return rp.MaxDelay
			}
		}
	}
	if d > rp.MaxDelay {
		d = rp.MaxDelay
	}
	return d
}

// Execute runs fn up to MaxAttempts times with backoff, stopping early
// on context cancellation.
func (rp *TransientRetryPolicy) Execute(ctx context.Context, fn func() error) error {
	maxAttempts := rp.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("execution cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= maxAttempts {
			break
		}

		delay := rp.delay(attempt)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("execution cancelled during retry delay: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("all retry attempts failed: %w", lastErr)
}

// StageRetryBudget is the bounded number of re-attempts a generative
// stage gets after a validator rejects its output (§4.1: "default 1
// retry, i.e. up to 2 total attempts").
const StageRetryBudget = 1
