package actionlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/actionlog"
)

func TestLogActionRehydrateReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := actionlog.New(t.TempDir())
	require.NoError(t, log.EnsureDirectoryExists())

	a := &actionlog.Action{Type: actionlog.UploadFile, RemotePath: "/state/1", SourcePath: "/tmp/staged"}
	require.NoError(t, log.LogAction(ctx, a))
	require.NotZero(t, a.ActionKey)

	keys, err := log.EnumerateActionKeys()
	require.NoError(t, err)
	require.Equal(t, []int64{a.ActionKey}, keys)

	rehydrated, err := log.RehydrateAction(a.ActionKey)
	require.NoError(t, err)
	require.Equal(t, a.Type, rehydrated.Type)
	require.Equal(t, a.RemotePath, rehydrated.RemotePath)
	require.Equal(t, a.SourcePath, rehydrated.SourcePath)
	require.False(t, rehydrated.IsComplete)

	require.NoError(t, log.ReleaseAction(a))

	keys, err = log.EnumerateActionKeys()
	require.NoError(t, err)
	require.Empty(t, keys)

	// Releasing twice must not error.
	require.NoError(t, log.ReleaseAction(a))
}

func TestCreateTemporaryCacheActionDataFileUnique(t *testing.T) {
	log := actionlog.New(t.TempDir())
	require.NoError(t, log.EnsureDirectoryExists())

	a, err := log.CreateTemporaryCacheActionDataFile()
	require.NoError(t, err)

	b, err := log.CreateTemporaryCacheActionDataFile()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "UploadFile", actionlog.UploadFile.String())
	require.Equal(t, "DeleteFile", actionlog.DeleteFile.String())
}
