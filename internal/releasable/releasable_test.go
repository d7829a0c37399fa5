package releasable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/internal/releasable"
)

func TestVerifyPassesWhenTrackingDisabled(t *testing.T) {
	releasable.Created("some.Kind", 1)
	require.NoError(t, releasable.Verify())
}

func TestCreatedAndReleasedTracksLifecycle(t *testing.T) {
	const kind = "test.TrackedKind"

	releasable.EnableTracking(kind)
	defer releasable.DisableTracking(kind)

	releasable.Created(kind, "a")
	releasable.Created(kind, "b")

	require.Error(t, releasable.Verify())
	require.Len(t, releasable.Active()[releasable.ItemKind(kind)], 2)

	releasable.Released(kind, "a")
	require.Len(t, releasable.Active()[releasable.ItemKind(kind)], 1)

	releasable.Released(kind, "b")
	require.NoError(t, releasable.Verify())
}

func TestReleasedIsIdempotent(t *testing.T) {
	const kind = "test.IdempotentKind"

	releasable.EnableTracking(kind)
	defer releasable.DisableTracking(kind)

	releasable.Created(kind, "a")
	releasable.Released(kind, "a")
	releasable.Released(kind, "a")

	require.NoError(t, releasable.Verify())
}
