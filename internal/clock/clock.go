// Package clock provides a fakeable source of wall-clock time so that
// debounce timers and retry back-offs can be tested without real sleeps.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

var nowFunc atomic.Value

func init() {
	nowFunc.Store(time.Now)
}

// Now returns the current time as seen by the process.
func Now() time.Time {
	return nowFunc.Load().(func() time.Time)()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}

// SetNowFuncForTesting overrides the time source and returns a function that restores it.
func SetNowFuncForTesting(f func() time.Time) (restore func()) {
	previous := nowFunc.Load()
	nowFunc.Store(f)

	return func() {
		nowFunc.Store(previous)
	}
}

// SleepInterruptibly sleeps for d or returns early with ctx.Err() if ctx is done first.
func SleepInterruptibly(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
