// Package blobtesting provides an in-memory blob.Storage fake with
// failure-injection hooks, for driving deterministic cache tests without
// a real backend.
package blobtesting

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mirrorbackup/rtbackup/blob"
	"github.com/mirrorbackup/rtbackup/internal/clock"
)

// Hook lets a test inject a failure (or delay) for one call before the
// real in-memory operation runs. Returning nil lets the call proceed.
type Hook func(remotePath string) error

// MapStorage is an in-memory blob.Storage fake.
type MapStorage struct {
	mu   sync.Mutex
	data map[string][]byte

	UploadHook Hook
	DeleteHook Hook

	UploadCalls int32
	DeleteCalls int32
}

// NewMapStorage returns an empty in-memory fake.
func NewMapStorage() *MapStorage {
	return &MapStorage{data: map[string][]byte{}}
}

// UploadFileDirect implements blob.Storage.
func (m *MapStorage) UploadFileDirect(ctx context.Context, remotePath string, r io.Reader) error {
	atomic.AddInt32(&m.UploadCalls, 1)

	if m.UploadHook != nil {
		if err := m.UploadHook(remotePath); err != nil {
			return err
		}
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[remotePath] = b

	return nil
}

// DownloadFileDirect implements blob.Storage.
func (m *MapStorage) DownloadFileDirect(ctx context.Context, remotePath string, w io.Writer) error {
	m.mu.Lock()
	b, ok := m.data[remotePath]
	m.mu.Unlock()

	if !ok {
		return blob.ErrNotFound
	}

	_, err := io.Copy(w, bytes.NewReader(b))

	return err
}

// DeleteFileDirect implements blob.Storage.
func (m *MapStorage) DeleteFileDirect(ctx context.Context, remotePath string) error {
	atomic.AddInt32(&m.DeleteCalls, 1)

	if m.DeleteHook != nil {
		if err := m.DeleteHook(remotePath); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, remotePath)

	return nil
}

// EnumerateFiles implements blob.Storage.
func (m *MapStorage) EnumerateFiles(ctx context.Context, prefix string, recursive bool) ([]blob.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []blob.Metadata

	for path, b := range m.data {
		if !strings.HasPrefix(path, prefix) {
			continue
		}

		if !recursive && strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			continue
		}

		out = append(out, blob.Metadata{Path: path, Length: int64(len(b)), LastModified: clock.Now()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

// Contents returns a copy of the stored bytes for path, for test assertions.
func (m *MapStorage) Contents(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.data[path]
	if !ok {
		return nil, false
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	return cp, true
}

// FailNTimes returns a Hook that fails the first n calls with err, then succeeds.
func FailNTimes(n int, err error) Hook {
	var calls int32

	return func(string) error {
		if int(atomic.AddInt32(&calls, 1)) <= n {
			return err
		}

		return nil
	}
}
