package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/internal/clock"
)

func TestSetNowFuncForTesting(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	restore := clock.SetNowFuncForTesting(func() time.Time { return fixed })

	defer restore()

	require.True(t, clock.Now().Equal(fixed))
	require.Equal(t, time.Hour, clock.Until(fixed.Add(time.Hour)))
	require.Equal(t, time.Hour, clock.Since(fixed.Add(-time.Hour)))
}

func TestSleepInterrupiblyCompletes(t *testing.T) {
	err := clock.SleepInterruptibly(context.Background(), time.Millisecond)
	require.NoError(t, err)
}

func TestSleepInterruptiblyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clock.SleepInterruptibly(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepInterruptiblyNonPositive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, clock.SleepInterruptibly(ctx, 0), context.Canceled)
}
