// Package snapshotref implements reference-counted lifetime over a
// filesystem snapshot handle, so it is disposed exactly once, the instant
// its last consumer releases it.
package snapshotref

import (
	"sync"
	"sync/atomic"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/mirrorbackup/rtbackup/internal/releasable"
)

const releasableKind = "snapshotref.SnapshotReference"

// Snapshot is the narrow capability this package needs from whatever
// copy-on-write filesystem snapshot mechanism produced the handle.
type Snapshot interface {
	Dispose() error
}

// ErrorLogger receives the error from a failed Dispose; disposal failures
// never propagate out of Release.
type ErrorLogger interface {
	Log(message, detail string, err error)
}

type nopErrorLogger struct{}

func (nopErrorLogger) Log(string, string, error) {}

// Tracker owns a Snapshot and disposes it exactly once, when the last
// outstanding SnapshotReference is released.
type Tracker struct {
	mu          sync.Mutex
	snapshot    Snapshot
	count       int
	disposed    bool
	errorLogger ErrorLogger
}

// NewTracker constructs a Tracker over snapshot. snapshot must not be nil:
// a nil snapshot is a programmer error and fails fast.
func NewTracker(snapshot Snapshot, errorLogger ErrorLogger) *Tracker {
	if snapshot == nil {
		panic("snapshotref: NewTracker called with a nil snapshot")
	}

	if errorLogger == nil {
		errorLogger = nopErrorLogger{}
	}

	return &Tracker{snapshot: snapshot, errorLogger: errorLogger}
}

// AddReference atomically increments the reference count and returns a
// token tagged with path. The tracker must not have disposed its snapshot
// yet; calling AddReference after the last reference was released is a
// programmer error.
func (t *Tracker) AddReference(path string) *SnapshotReference {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		panic("snapshotref: AddReference called after the snapshot was disposed")
	}

	t.count++

	ref := &SnapshotReference{
		tracker: t,
		path:    path,
		tag:     petname.Generate(2, "-"),
	}
	releasable.Created(releasableKind, ref)

	return ref
}

func (t *Tracker) release() {
	t.mu.Lock()
	t.count--
	dispose := t.count == 0 && !t.disposed

	if dispose {
		t.disposed = true
	}
	t.mu.Unlock()

	if dispose {
		if err := t.snapshot.Dispose(); err != nil {
			t.errorLogger.Log("failed to dispose snapshot", "", err)
		}
	}
}

// SnapshotReference is a weak token whose existence keeps a Tracker's
// snapshot alive. It holds only a back-reference to the tracker, not the
// snapshot itself.
type SnapshotReference struct {
	tracker  *Tracker
	path     string
	tag      string
	released int32
}

// Path returns the path that caused this reference to be created.
func (r *SnapshotReference) Path() string {
	return r.path
}

// Tag returns a human-readable debug label for this reference; it carries
// no identity meaning, it exists only to make logs legible.
func (r *SnapshotReference) Tag() string {
	return r.tag
}

// Release decrements the tracker's reference count, disposing the
// snapshot if and only if this was the last outstanding reference.
// Idempotent: a second Release on the same token is a no-op. Release
// order across references is irrelevant to the final outcome.
func (r *SnapshotReference) Release() {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		return
	}

	releasable.Released(releasableKind, r)
	r.tracker.release()
}
