// Package timerport defines the Timer Port: a delayed one-shot callback
// primitive, narrow enough that the RFSC never touches time.AfterFunc or
// a raw goroutine directly.
package timerport

import (
	"context"
	"time"

	"github.com/mirrorbackup/rtbackup/internal/clock"
	"github.com/mirrorbackup/rtbackup/internal/sleepable"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the callback if it has not fired yet. Returns false
	// if it was already stopped; the default Port's timers do not track
	// firing, so the first Stop after the callback fired returns true.
	Stop() bool
}

// Port schedules one-shot delayed callbacks.
type Port interface {
	Schedule(ctx context.Context, d time.Duration, callback func()) Timer
}

// sleepablePort implements Port on top of internal/sleepable's
// wake-and-recheck timer, so long debounce windows survive system sleep.
type sleepablePort struct{}

// New returns the default Port implementation.
func New() Port {
	return sleepablePort{}
}

func (sleepablePort) Schedule(ctx context.Context, d time.Duration, callback func()) Timer {
	st := sleepable.NewTimer(clock.Now, clock.Now().Add(d))

	go func() {
		select {
		case <-st.C:
			callback()
		case <-ctx.Done():
		}
	}()

	return st
}
