package filesystem_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/blob"
	"github.com/mirrorbackup/rtbackup/blob/filesystem"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()

	s, err := filesystem.New(t.TempDir())
	require.NoError(t, err)

	content := "the quick brown fox jumps over the lazy dog"
	require.NoError(t, s.UploadFileDirect(ctx, "/state/1", strings.NewReader(content)))

	var buf bytes.Buffer
	require.NoError(t, s.DownloadFileDirect(ctx, "/state/1", &buf))
	require.Equal(t, content, buf.String())
}

func TestDownloadMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()

	s, err := filesystem.New(t.TempDir())
	require.NoError(t, err)

	var buf bytes.Buffer
	err = s.DownloadFileDirect(ctx, "/state/missing", &buf)
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()

	s, err := filesystem.New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.DeleteFileDirect(ctx, "/state/never-existed"))

	require.NoError(t, s.UploadFileDirect(ctx, "/state/1", strings.NewReader("x")))
	require.NoError(t, s.DeleteFileDirect(ctx, "/state/1"))
	require.NoError(t, s.DeleteFileDirect(ctx, "/state/1"))

	var buf bytes.Buffer
	err = s.DownloadFileDirect(ctx, "/state/1", &buf)
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestEnumerateFiles(t *testing.T) {
	ctx := context.Background()

	s, err := filesystem.New(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"/state/1", "/state/2", "/state/10"} {
		require.NoError(t, s.UploadFileDirect(ctx, p, strings.NewReader("x")))
	}

	items, err := s.EnumerateFiles(ctx, "state", true)
	require.NoError(t, err)
	require.Len(t, items, 3)

	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	require.ElementsMatch(t, []string{"state/1", "state/2", "state/10"}, paths)
}
