// Package filestore implements cachestore.Store over a local directory,
// one file per batch number, using a temp-file-then-rename idiom for
// consolidated writes.
package filestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

const (
	newSuffix         = ".new"
	lockRetryInterval = 50 * time.Millisecond
)

func newReaderOf(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// Store persists batch files under root, one plain file per batch number.
type Store struct {
	root string
	lock *flock.Flock
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{
		root: dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}
}

func (s *Store) path(n int) string {
	return filepath.Join(s.root, strconv.Itoa(n))
}

// EnsureDirectoryExists implements cachestore.Store.
func (s *Store) EnsureDirectoryExists(ctx context.Context) error {
	return errors.Wrap(os.MkdirAll(s.root, 0o700), "creating cache store root")
}

// Lock acquires an exclusive process-level lock over the cache root, so two
// daemon instances cannot race the same RemoteFileStateCachePath.
func (s *Store) Lock(ctx context.Context) error {
	locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return errors.Wrap(err, "locking cache store")
	}

	if !locked {
		return errors.New("cache store is locked by another process")
	}

	return nil
}

// Unlock releases the lock acquired by Lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// EnumerateBatches implements cachestore.Store.
func (s *Store) EnumerateBatches(ctx context.Context) ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "listing cache store")
	}

	var batches []int

	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), newSuffix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		batches = append(batches, n)
	}

	return batches, nil
}

// OpenBatchFileReader implements cachestore.Store.
func (s *Store) OpenBatchFileReader(ctx context.Context, n int) (io.ReadCloser, error) {
	f, err := os.Open(s.path(n))
	if err != nil {
		return nil, errors.Wrapf(err, "opening batch %d", n)
	}

	return f, nil
}

// OpenBatchFileStream implements cachestore.Store.
func (s *Store) OpenBatchFileStream(ctx context.Context, n int) (io.ReadCloser, error) {
	return s.OpenBatchFileReader(ctx, n)
}

type autoFlushWriter struct {
	f *os.File
}

func (w *autoFlushWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, err
	}

	if err := w.f.Sync(); err != nil {
		return n, errors.Wrap(err, "flushing batch file")
	}

	return n, nil
}

func (w *autoFlushWriter) Close() error {
	return w.f.Close()
}

// OpenBatchFileWriter implements cachestore.Store.
func (s *Store) OpenBatchFileWriter(ctx context.Context, n int) (io.WriteCloser, error) {
	f, err := os.OpenFile(s.path(n), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening batch %d for append", n)
	}

	return &autoFlushWriter{f: f}, nil
}

// newBatchWriter buffers the consolidated content and writes it atomically
// to the ".new" path on Close, since the merged batch always fits in memory
// (it is the in-memory cache map subset for two already-loaded batches).
type newBatchWriter struct {
	path string
	buf  []byte
}

func (w *newBatchWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *newBatchWriter) Close() error {
	return errors.Wrap(atomic.WriteFile(w.path, newReaderOf(w.buf)), "writing consolidated batch")
}

// OpenNewBatchFileWriter implements cachestore.Store.
func (s *Store) OpenNewBatchFileWriter(ctx context.Context, n int) (io.WriteCloser, error) {
	return &newBatchWriter{path: s.path(n) + newSuffix}, nil
}

// SwitchToConsolidatedFile implements cachestore.Store.
//
// target's ".new" file is already fully written by the time this is
// called. Renaming it over target is atomic on the local filesystem; if
// the process crashes between the rename and the delete of toDelete, the
// next consolidation pass simply re-merges toDelete (whose entries are by
// then already reflected in target, so the re-merge is a harmless no-op)
// and retries the delete.
func (s *Store) SwitchToConsolidatedFile(ctx context.Context, toDelete, target int) error {
	newPath := s.path(target) + newSuffix

	if err := os.Rename(newPath, s.path(target)); err != nil {
		return errors.Wrapf(err, "switching batch %d to consolidated content", target)
	}

	if err := os.Remove(s.path(toDelete)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing retired batch %d", toDelete)
	}

	return nil
}

// GetBatchFileSize implements cachestore.Store.
func (s *Store) GetBatchFileSize(ctx context.Context, n int) (int64, error) {
	fi, err := os.Stat(s.path(n))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, errors.Wrapf(err, "statting batch %d", n)
	}

	return fi.Size(), nil
}
