package actionlog

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/internal/clock"
)

// tempFileRetryLimit bounds CreateTemporaryCacheActionDataFile's collision
// retries.
const tempFileRetryLimit = 1000

// Log is a directory-backed durable queue of Actions, named by the
// filesystem under dir: <dir>/<actionKey> holds the record, <dir>/tmp/
// holds staged upload payloads.
type Log struct {
	dir string
}

// New returns a Log rooted at dir.
func New(dir string) *Log {
	return &Log{dir: dir}
}

func (l *Log) tmpDir() string {
	return filepath.Join(l.dir, "tmp")
}

// EnsureDirectoryExists creates the queue directory and its tmp/ staging
// subdirectory if they don't already exist.
func (l *Log) EnsureDirectoryExists() error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return errors.Wrap(err, "creating action queue directory")
	}

	return errors.Wrap(os.MkdirAll(l.tmpDir(), 0o700), "creating action queue tmp directory")
}

// EnumerateActionKeys returns every action key present on disk, in no
// particular order; callers sort before replay.
func (l *Log) EnumerateActionKeys() ([]int64, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "listing action queue")
	}

	var keys []int64

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		key, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}

		keys = append(keys, key)
	}

	return keys, nil
}

func (l *Log) filename(key int64) string {
	return filepath.Join(l.dir, strconv.FormatInt(key, 10))
}

// LogAction allocates an actionKey, durably writes a, and stamps its
// on-disk filename onto a. The record file is created exclusively, then
// written, fsynced and closed before LogAction returns; on a write or sync
// error the file is removed. A crash between creating the file and the
// fsync can leave an empty or partial record on disk: RehydrateAction
// reports it as corrupt, LoadPending skips it, and the file stays in the
// queue directory.
func (l *Log) LogAction(ctx context.Context, a *Action) error {
	key := clock.Now().UnixNano()

	for {
		path := l.filename(key)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			data, marshalErr := marshal(a)
			if marshalErr != nil {
				f.Close()
				os.Remove(path)

				return marshalErr
			}

			if _, writeErr := f.Write(data); writeErr != nil {
				f.Close()
				os.Remove(path)

				return errors.Wrap(writeErr, "writing action record")
			}

			if syncErr := f.Sync(); syncErr != nil {
				f.Close()
				os.Remove(path)

				return errors.Wrap(syncErr, "syncing action record")
			}

			if closeErr := f.Close(); closeErr != nil {
				return errors.Wrap(closeErr, "closing action record")
			}

			a.ActionKey = key
			a.filename = path

			return nil
		}

		if !os.IsExist(err) {
			return errors.Wrap(err, "creating action record")
		}

		key++
	}
}

// RehydrateAction reads the action file back into memory. Returns an
// error (logged by the caller and skipped) if the file is corrupt.
func (l *Log) RehydrateAction(key int64) (*Action, error) {
	path := l.filename(key)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading action %d", key)
	}

	a, err := unmarshal(key, path, data)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt action %d", key)
	}

	return a, nil
}

// ReleaseAction deletes the backing file and clears the filename pointer.
// Idempotent against a missing file.
func (l *Log) ReleaseAction(a *Action) error {
	if a.filename == "" {
		return nil
	}

	err := os.Remove(a.filename)
	a.filename = ""

	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "releasing action record")
	}

	return nil
}

// CreateTemporaryCacheActionDataFile allocates a never-before-used path
// under the queue directory's tmp/ subdirectory for staging an upload
// payload, outside the action-key ordering namespace. Because it lives
// under the same queue directory that ReleaseAction and the worker's
// post-upload cleanup both operate on, there is a single owner of the
// path and no cross-restart race.
func (l *Log) CreateTemporaryCacheActionDataFile() (string, error) {
	for i := 0; i < tempFileRetryLimit; i++ {
		path := filepath.Join(l.tmpDir(), uuid.NewString())

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return path, nil
		}

		if !os.IsExist(err) {
			return "", errors.Wrap(err, "creating temporary action data file")
		}
	}

	return "", errors.Errorf("unable to allocate a temporary action data file after %d attempts", tempFileRetryLimit)
}
