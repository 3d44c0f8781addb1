package ldap

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retry runs op up to maxTries times, waiting per b between attempts. Errors
// that retryable rejects end the loop at once. The last error is returned
// unwrapped; a cancelled ctx stops waiting and returns ctx.Err().
func retry(ctx context.Context, maxTries int, b backoff.BackOff, retryable func(error) bool, notify backoff.Notify, op func() error) error {
	if maxTries < 1 {
		maxTries = 1
	}

	attempt := func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxTries-1)), ctx)
	return backoff.RetryNotify(attempt, policy, notify)
}

// newExponentialBackOff returns the bounded exponential policy used between
// bind attempts.
func newExponentialBackOff(initial time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxRetryBackoff
	b.MaxElapsedTime = 0
	return b
}
