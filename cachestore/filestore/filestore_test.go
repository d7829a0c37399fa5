package filestore_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/cachestore/filestore"
)

func TestEnsureDirectoryExistsAndEnumerateEmpty(t *testing.T) {
	ctx := context.Background()
	s := filestore.New(t.TempDir())

	require.NoError(t, s.EnsureDirectoryExists(ctx))

	batches, err := s.EnumerateBatches(ctx)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestWriteReadAppendBatch(t *testing.T) {
	ctx := context.Background()
	s := filestore.New(t.TempDir())
	require.NoError(t, s.EnsureDirectoryExists(ctx))

	w, err := s.OpenBatchFileWriter(ctx, 1)
	require.NoError(t, err)

	_, err = io.WriteString(w, "line one\n")
	require.NoError(t, err)
	_, err = io.WriteString(w, "line two\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := s.OpenBatchFileReader(ctx, 1)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "line one\nline two\n", string(data))

	batches, err := s.EnumerateBatches(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{1}, batches)

	size, err := s.GetBatchFileSize(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)
}

func TestGetBatchFileSizeMissing(t *testing.T) {
	ctx := context.Background()
	s := filestore.New(t.TempDir())

	size, err := s.GetBatchFileSize(ctx, 99)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestSwitchToConsolidatedFile(t *testing.T) {
	ctx := context.Background()
	s := filestore.New(t.TempDir())
	require.NoError(t, s.EnsureDirectoryExists(ctx))

	for _, n := range []int{1, 2} {
		w, err := s.OpenBatchFileWriter(ctx, n)
		require.NoError(t, err)
		_, err = io.WriteString(w, "original\n")
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	nw, err := s.OpenNewBatchFileWriter(ctx, 2)
	require.NoError(t, err)
	_, err = io.WriteString(nw, "consolidated\n")
	require.NoError(t, err)
	require.NoError(t, nw.Close())

	require.NoError(t, s.SwitchToConsolidatedFile(ctx, 1, 2))

	batches, err := s.EnumerateBatches(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{2}, batches)

	r, err := s.OpenBatchFileReader(ctx, 2)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "consolidated\n", string(data))
}

func TestSwitchToConsolidatedFileToleratesMissingRetiree(t *testing.T) {
	ctx := context.Background()
	s := filestore.New(t.TempDir())
	require.NoError(t, s.EnsureDirectoryExists(ctx))

	nw, err := s.OpenNewBatchFileWriter(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, nw.Close())

	require.NoError(t, s.SwitchToConsolidatedFile(ctx, 4, 5))
}

func TestLockExclusion(t *testing.T) {
	dir := t.TempDir()
	a := filestore.New(dir)
	b := filestore.New(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	require.NoError(t, a.EnsureDirectoryExists(context.Background()))
	require.NoError(t, a.Lock(context.Background()))
	defer a.Unlock()

	err := b.Lock(ctx)
	require.Error(t, err)
}
