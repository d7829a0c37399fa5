// Package filesystem implements blob.Storage over a local directory tree,
// one file per remote path, written via temp-file-and-rename and streamed
// through zstd so the remote
// namespace is never stored uncompressed on disk.
//
// This stands in for vendor-specific object-storage clients: it is the
// one concrete backend this module ships, used in development and to
// exercise the action worker end-to-end in tests without a live cloud
// account.
package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/blob"
)

const objectSuffix = ".zst"

// Storage is a directory-backed blob.Storage.
type Storage struct {
	root string
}

// New returns a Storage rooted at dir, creating it if necessary.
func New(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating blob storage root")
	}

	return &Storage{root: dir}, nil
}

func (s *Storage) localPath(remotePath string) string {
	clean := strings.TrimPrefix(filepath.Clean("/"+remotePath), "/")
	return filepath.Join(s.root, filepath.FromSlash(clean)+objectSuffix)
}

// UploadFileDirect implements blob.Storage.
func (s *Storage) UploadFileDirect(ctx context.Context, remotePath string, r io.Reader) error {
	path := s.localPath(remotePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "creating shard directory")
	}

	pr, pw := io.Pipe()

	enc, err := zstd.NewWriter(pw)
	if err != nil {
		return errors.Wrap(err, "creating zstd encoder")
	}

	go func() {
		_, copyErr := io.Copy(enc, r)
		closeErr := enc.Close()

		if copyErr != nil {
			pw.CloseWithError(copyErr)
			return
		}

		pw.CloseWithError(closeErr)
	}()

	if err := atomic.WriteFile(path, pr); err != nil {
		return errors.Wrapf(err, "uploading %s", remotePath)
	}

	return nil
}

// DownloadFileDirect implements blob.Storage.
func (s *Storage) DownloadFileDirect(ctx context.Context, remotePath string, w io.Writer) error {
	path := s.localPath(remotePath)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return blob.ErrNotFound
		}

		return errors.Wrapf(err, "opening %s", remotePath)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "creating zstd decoder")
	}
	defer dec.Close()

	if _, err := io.Copy(w, dec); err != nil {
		return errors.Wrapf(err, "downloading %s", remotePath)
	}

	return nil
}

// DeleteFileDirect implements blob.Storage.
func (s *Storage) DeleteFileDirect(ctx context.Context, remotePath string) error {
	err := os.Remove(s.localPath(remotePath))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting %s", remotePath)
	}

	return nil
}

// EnumerateFiles implements blob.Storage.
func (s *Storage) EnumerateFiles(ctx context.Context, prefix string, recursive bool) ([]blob.Metadata, error) {
	base := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(filepath.Clean("/"+prefix), "/")))

	var results []blob.Metadata

	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			if !recursive && path != base {
				return filepath.SkipDir
			}

			return nil
		}

		if !strings.HasSuffix(path, objectSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		remotePath := strings.TrimSuffix(filepath.ToSlash(rel), objectSuffix)
		results = append(results, blob.Metadata{
			Path:         remotePath,
			Length:       info.Size(),
			LastModified: info.ModTime(),
		})

		return nil
	}

	if err := filepath.WalkDir(base, walk); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "enumerating %s", prefix)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	return results, nil
}
