// Package retry provides retry helpers shared by collaborators that talk
// to the remote storage port, which the spec requires to retry transient
// failures indefinitely with a fixed back-off.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/internal/clock"
)

var (
	retryInitialSleepAmount = 100 * time.Millisecond
	retryMaxSleepAmount     = 10 * time.Second
	maxAttempts             = 10
)

// WithExponentialBackoff calls f until it succeeds, isRetriable(err) returns
// false, or maxAttempts is exhausted.
func WithExponentialBackoff[T any](ctx context.Context, desc string, f func() (T, error), isRetriable func(error) bool) (T, error) {
	sleep := retryInitialSleepAmount

	var (
		result T
		err    error
	)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err = f()
		if err == nil {
			return result, nil
		}

		if !isRetriable(err) {
			return result, err
		}

		if attempt == maxAttempts-1 {
			break
		}

		if sleepErr := clock.SleepInterruptibly(ctx, sleep); sleepErr != nil {
			return result, sleepErr
		}

		sleep *= 2
		if sleep > retryMaxSleepAmount {
			sleep = retryMaxSleepAmount
		}
	}

	return result, errors.Wrapf(err, "unable to complete %s despite %d retries", desc, maxAttempts)
}

// Forever calls f, retrying with a fixed delay between attempts, until it
// succeeds or ctx is done. onError, if non-nil, is invoked with each
// transient failure before the delay.
func Forever(ctx context.Context, delay time.Duration, f func() error, onError func(error)) error {
	for {
		err := f()
		if err == nil {
			return nil
		}

		if onError != nil {
			onError(err)
		}

		if sleepErr := clock.SleepInterruptibly(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
