// Package filestate defines the (path, size, checksum) record that is the
// unit of the batch log, along with its tombstone encoding and a
// reversible line serialization.
package filestate

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// tombstoneSize and tombstoneChecksum are the sentinel encodings that mark
// a State as "this path was removed" rather than "this path has content".
const (
	tombstoneSize     = -1
	tombstoneChecksum = "-"
)

// State is one (path, fileSize, checksum) record.
type State struct {
	Path     string
	FileSize int64
	Checksum string
}

// Tombstone returns the tombstone State for path.
func Tombstone(path string) State {
	return State{Path: path, FileSize: tombstoneSize, Checksum: tombstoneChecksum}
}

// IsTombstone reports whether s marks path as removed.
func (s State) IsTombstone() bool {
	return s.FileSize == tombstoneSize && s.Checksum == tombstoneChecksum
}

// Format serializes s as a single line (no trailing newline), reversible
// via Parse. The path is Go-quoted so arbitrary bytes (spaces, newlines,
// quotes) round-trip exactly.
func Format(s State) string {
	var b strings.Builder

	b.WriteString(strconv.Quote(s.Path))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(s.FileSize, 10))
	b.WriteByte(' ')
	b.WriteString(s.Checksum)

	return b.String()
}

// Parse reverses Format.
func Parse(line string) (State, error) {
	quoted, err := strconv.QuotedPrefix(line)
	if err != nil {
		return State{}, errors.Wrapf(err, "parsing path in line %q", line)
	}

	path, err := strconv.Unquote(quoted)
	if err != nil {
		return State{}, errors.Wrapf(err, "unquoting path in line %q", line)
	}

	rest := strings.TrimPrefix(line[len(quoted):], " ")

	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return State{}, errors.Errorf("malformed file state line %q", line)
	}

	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return State{}, errors.Wrapf(err, "parsing size in line %q", line)
	}

	return State{Path: path, FileSize: size, Checksum: fields[1]}, nil
}
