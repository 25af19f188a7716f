package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval     = 1 * time.Second
	retryMaxInterval         = 10 * time.Second
	retryMultiplier          = 2.0
	retryRandomizationFactor = 0.5
)

// RetryPolicy bounds a retry loop: total attempts and the exponential
// backoff window between them.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns a policy with jittered exponential backoff
// between 1s and 10s and the given total attempt count.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: retryInitialInterval,
		MaxInterval:     retryMaxInterval,
	}
}

// Retry executes op up to policy.MaxAttempts times, sleeping with jittered
// exponential backoff between attempts. An error is retried only when
// retryable returns true for it; other errors abort the loop immediately.
// Context cancellation interrupts the backoff wait.
//
// The retry loop is invoked inline at each call site rather than decorating
// the operation at construction time, so the policy in effect is always
// visible where the call is made.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.Multiplier = retryMultiplier
	eb.RandomizationFactor = retryRandomizationFactor
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	// MaxAttempts counts the first attempt, WithMaxRetries counts retries.
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
