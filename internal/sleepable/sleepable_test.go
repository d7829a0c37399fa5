package sleepable_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/internal/sleepable"
)

func TestTimerFiresAtTarget(t *testing.T) {
	restore := sleepable.MaxSleepTime
	sleepable.MaxSleepTime = 10 * time.Millisecond

	defer func() { sleepable.MaxSleepTime = restore }()

	start := time.Now()
	target := start.Add(30 * time.Millisecond)

	timer := sleepable.NewTimer(time.Now, target)

	fired := <-timer.C
	require.True(t, !fired.Before(target))
}

func TestTimerStopBeforeFire(t *testing.T) {
	timer := sleepable.NewTimer(time.Now, time.Now().Add(time.Hour))

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	select {
	case <-timer.C:
		t.Fatal("stopped timer must not fire")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTimerAlreadyPastTarget(t *testing.T) {
	timer := sleepable.NewTimer(time.Now, time.Now().Add(-time.Second))

	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer with a past target should fire immediately")
	}
}
