// Package blob defines the Remote Storage Port: the narrow capability set
// the core needs from whatever object-storage backend is configured.
// Vendor-specific SDK wrappers are out of scope here; this package only
// defines the interface, and a reference filesystem backend
// lives in blob/filesystem for local testing and development.
package blob

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by DownloadFileDirect and EnumerateFiles-adjacent
// lookups when the named remote object does not exist.
var ErrNotFound = errors.New("blob not found")

// Metadata describes one object under the remote namespace.
type Metadata struct {
	Path         string
	Length       int64
	LastModified time.Time
}

// Storage is the Remote Storage Port. Implementations must
// be idempotent-tolerant: deleting an absent object and uploading over an
// existing path both succeed (or are safely retryable).
type Storage interface {
	// UploadFileDirect uploads the full contents of r to remotePath,
	// overwriting any existing object at that path.
	UploadFileDirect(ctx context.Context, remotePath string, r io.Reader) error

	// DownloadFileDirect streams remotePath's contents into w. Returns
	// ErrNotFound if the object does not exist.
	DownloadFileDirect(ctx context.Context, remotePath string, w io.Writer) error

	// DeleteFileDirect deletes remotePath. Deleting an absent object is
	// not an error.
	DeleteFileDirect(ctx context.Context, remotePath string) error

	// EnumerateFiles lists objects under prefix. If recursive is false,
	// only the immediate children of prefix are returned.
	EnumerateFiles(ctx context.Context, prefix string, recursive bool) ([]Metadata, error)
}
