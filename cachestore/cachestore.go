// Package cachestore defines the Cache Storage Port: local persistence
// of RFSC batch files, abstracted behind an interface so the RFSC never
// talks to the filesystem directly.
package cachestore

import (
	"context"
	"io"
)

// Store is the Cache Storage Port.
type Store interface {
	// EnsureDirectoryExists creates the local batch root if needed.
	EnsureDirectoryExists(ctx context.Context) error

	// EnumerateBatches returns every locally-present batch number, in no
	// particular order; callers sort as needed.
	EnumerateBatches(ctx context.Context) ([]int, error)

	// OpenBatchFileReader opens batch n for line-by-line replay.
	OpenBatchFileReader(ctx context.Context, n int) (io.ReadCloser, error)

	// OpenBatchFileStream opens batch n for a raw byte copy (e.g. staging
	// it for upload), without any assumption about its structure.
	OpenBatchFileStream(ctx context.Context, n int) (io.ReadCloser, error)

	// OpenBatchFileWriter opens batch n for append, flushing to durable
	// storage after every Write so a crash never loses an entry already
	// visible to callers.
	OpenBatchFileWriter(ctx context.Context, n int) (io.WriteCloser, error)

	// OpenNewBatchFileWriter opens the ".new" sibling of batch n, used to
	// stage a consolidated replacement before it is swapped in.
	OpenNewBatchFileWriter(ctx context.Context, n int) (io.WriteCloser, error)

	// SwitchToConsolidatedFile atomically replaces target's batch file
	// with its already-written ".new" sibling and deletes toDelete's
	// batch file. A crash during this call must leave either the
	// pre-state or the post-state, never a mix.
	SwitchToConsolidatedFile(ctx context.Context, toDelete, target int) error

	// GetBatchFileSize returns the current on-disk size of batch n.
	GetBatchFileSize(ctx context.Context, n int) (int64, error)
}
