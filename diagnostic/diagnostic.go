// Package diagnostic implements an append-only verbose log, distinct
// from the structured module loggers, written to
// RemoteFileStateCacheDebugLogPath when set.
package diagnostic

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/internal/clock"
)

// Output accepts free-form diagnostic lines.
type Output interface {
	Writef(format string, args ...interface{})
}

// Nop discards everything; used when RemoteFileStateCacheDebugLogPath is unset.
type Nop struct{}

// Writef implements Output.
func (Nop) Writef(string, ...interface{}) {}

// File appends timestamped lines to a local file.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// Open appends to (creating if needed) the file at path.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "opening diagnostic log")
	}

	return &File{f: f}, nil
}

// Writef implements Output.
func (d *File) Writef(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintf(d.f, "%s %s\n", clock.Now().Format("2006-01-02T15:04:05.000Z07:00"), fmt.Sprintf(format, args...))
}

// Close closes the underlying file.
func (d *File) Close() error {
	return d.f.Close()
}
