package snapshotref_test

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/snapshotref"
)

type fakeSnapshot struct {
	disposeCalls int
	disposeErr   error
}

func (f *fakeSnapshot) Dispose() error {
	f.disposeCalls++
	return f.disposeErr
}

type recordingErrorLogger struct {
	messages []string
}

func (l *recordingErrorLogger) Log(message, detail string, err error) {
	l.messages = append(l.messages, message)
}

// TestTenReferencesRandomReleaseOrder disposes exactly once, regardless
// of the order the ten references are released in.
func TestTenReferencesRandomReleaseOrder(t *testing.T) {
	snap := &fakeSnapshot{}
	tracker := snapshotref.NewTracker(snap, nil)

	refs := make([]*snapshotref.SnapshotReference, 10)
	for i := range refs {
		refs[i] = tracker.AddReference("/path")
	}

	order := rand.Perm(len(refs))
	for i, idx := range order {
		refs[idx].Release()

		if i < len(order)-1 {
			require.Equal(t, 0, snap.disposeCalls)
		}
	}

	require.Equal(t, 1, snap.disposeCalls)
}

func TestReleaseIsIdempotent(t *testing.T) {
	snap := &fakeSnapshot{}
	tracker := snapshotref.NewTracker(snap, nil)

	ref := tracker.AddReference("/path")
	ref.Release()
	ref.Release()
	ref.Release()

	require.Equal(t, 1, snap.disposeCalls)
}

func TestAddReferenceAfterDisposalPanics(t *testing.T) {
	snap := &fakeSnapshot{}
	tracker := snapshotref.NewTracker(snap, nil)

	ref := tracker.AddReference("/path")
	ref.Release()

	require.Panics(t, func() {
		tracker.AddReference("/path")
	})
}

func TestNewTrackerNilSnapshotPanics(t *testing.T) {
	require.Panics(t, func() {
		snapshotref.NewTracker(nil, nil)
	})
}

func TestDisposeErrorIsLoggedNotPropagated(t *testing.T) {
	snap := &fakeSnapshot{disposeErr: errors.New("disk full")}
	logger := &recordingErrorLogger{}
	tracker := snapshotref.NewTracker(snap, logger)

	ref := tracker.AddReference("/path")

	require.NotPanics(t, func() {
		ref.Release()
	})

	require.Len(t, logger.messages, 1)
}

func TestReferenceTagAndPath(t *testing.T) {
	tracker := snapshotref.NewTracker(&fakeSnapshot{}, nil)

	ref := tracker.AddReference("/some/path")
	defer ref.Release()

	require.Equal(t, "/some/path", ref.Path())
	require.NotEmpty(t, ref.Tag())
}
