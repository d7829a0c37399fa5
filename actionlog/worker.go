package actionlog

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/blob"
	"github.com/mirrorbackup/rtbackup/internal/clock"
	"github.com/mirrorbackup/rtbackup/internal/retry"
	"github.com/mirrorbackup/rtbackup/logging"
)

var logger = logging.GetContextLoggerFunc("actionlog")

// RetryDelay is how long the worker sleeps between failed attempts at the
// head-of-queue action before retrying.
var RetryDelay = 5 * time.Second

// ErrorLogger records non-fatal errors encountered while processing an
// action, such as a failure to remove a staged upload file after the
// upload itself succeeded. These are logged rather than surfaced to the
// caller. Failures to release an action's backing file go to the module
// logger instead.
type ErrorLogger interface {
	Log(message, detail string, err error)
}

// Worker drains a Log against a Remote Storage Port, one action at a
// time, in enqueue order, retrying transient failures forever.
type Worker struct {
	log     *Log
	storage blob.Storage

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Action
	inFlight int
	stopping bool
	done     chan struct{}

	errorLogger ErrorLogger
}

// NewWorker returns a Worker over log, issuing uploads/deletes through storage.
func NewWorker(log *Log, storage blob.Storage, errorLogger ErrorLogger) *Worker {
	if errorLogger == nil {
		errorLogger = nopErrorLogger{}
	}

	w := &Worker{
		log:         log,
		storage:     storage,
		done:        make(chan struct{}),
		errorLogger: errorLogger,
	}
	w.cond = sync.NewCond(&w.mu)

	return w
}

type nopErrorLogger struct{}

func (nopErrorLogger) Log(string, string, error) {}

// LoadPending rehydrates every persisted action, in ascending key order,
// into the in-memory queue.
func (w *Worker) LoadPending(ctx context.Context) error {
	keys, err := w.log.EnumerateActionKeys()
	if err != nil {
		return err
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, key := range keys {
		a, err := w.log.RehydrateAction(key)
		if err != nil {
			// Corrupt persisted action: log and skip, leaving the file
			// on disk for manual inspection.
			logger(ctx).Errorf("skipping corrupt action %d: %v", key, err)
			continue
		}

		w.queue = append(w.queue, a)
	}

	return nil
}

// Enqueue appends a to the in-memory (and already-durable) queue and
// wakes the worker loop.
func (w *Worker) Enqueue(a *Action) {
	w.mu.Lock()
	w.queue = append(w.queue, a)
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Run drains the queue until Stop is called. Intended to run on its own
// goroutine; it never lets an error escape its main loop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopping {
			w.cond.Wait()
		}

		if w.stopping {
			w.mu.Unlock()
			return
		}

		a := w.queue[0]
		w.queue = w.queue[1:]
		w.inFlight++
		w.mu.Unlock()

		if !a.IsComplete {
			err := retry.Forever(ctx, RetryDelay, func() error {
				return w.process(ctx, a)
			}, func(err error) {
				logger(ctx).Warnf("action %d (%v %s) failed, retrying in %v: %v", a.ActionKey, a.Type, a.RemotePath, RetryDelay, err)
			})
			if err != nil {
				// ctx was cancelled mid-retry; the action stays queued
				// (and durable on disk) for the next Run.
				w.mu.Lock()
				w.inFlight--
				w.mu.Unlock()

				return
			}

			a.IsComplete = true
		}

		if err := w.log.ReleaseAction(a); err != nil {
			// isComplete is already the durable source of truth, so a
			// failure to remove the now-redundant action file is a
			// cleanup problem, not a durability one.
			logger(ctx).Warnf("failed to release completed action %d (%s): %v", a.ActionKey, a.RemotePath, err)
		}

		w.mu.Lock()
		w.inFlight--
		w.mu.Unlock()

		w.cond.Broadcast()
	}
}

func (w *Worker) process(ctx context.Context, a *Action) error {
	switch a.Type {
	case UploadFile:
		f, err := os.Open(a.SourcePath)
		if err != nil {
			return errors.Wrapf(err, "opening staged upload %s", a.SourcePath)
		}

		uploadErr := w.storage.UploadFileDirect(ctx, a.RemotePath, f)
		f.Close()

		if uploadErr != nil {
			return errors.Wrapf(uploadErr, "uploading %s", a.RemotePath)
		}

		if err := os.Remove(a.SourcePath); err != nil && !os.IsNotExist(err) {
			w.errorLogger.Log("failed to remove staged upload file", a.SourcePath, err)
		}

		return nil

	case DeleteFile:
		return errors.Wrapf(w.storage.DeleteFileDirect(ctx, a.RemotePath), "deleting %s", a.RemotePath)

	default:
		return errors.Errorf("unknown action type %v", a.Type)
	}
}

// Stop requests the worker loop to exit once any in-flight action
// completes; that action keeps retrying until it succeeds or Run's
// context is cancelled. Pending actions remain on disk.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() {
	<-w.done
}

// QueueLen returns the number of actions not yet fully processed,
// including the one currently being attempted or retried.
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.queue) + w.inFlight
}

// DrainActionQueue blocks until the queue is empty or deadline elapses,
// returns true if the queue drained, false if the deadline elapsed first.
func (w *Worker) DrainActionQueue(ctx context.Context, deadline time.Time) bool {
	for {
		w.mu.Lock()
		empty := len(w.queue)+w.inFlight == 0
		w.mu.Unlock()

		if empty {
			return true
		}

		if clock.Now().After(deadline) {
			return false
		}

		if err := clock.SleepInterruptibly(ctx, pollInterval); err != nil {
			return false
		}
	}
}

const pollInterval = 100 * time.Millisecond
