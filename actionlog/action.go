// Package actionlog implements a directory-backed durable queue of
// pending remote mutations, plus the action worker that drains it
// against the Remote Storage Port.
package actionlog

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Type distinguishes the two kinds of remote mutation. A tagged variant
// keeps Action a single concrete type rather than an interface with two
// implementations.
type Type int

const (
	// UploadFile uploads SourcePath's contents to RemotePath.
	UploadFile Type = iota
	// DeleteFile deletes RemotePath.
	DeleteFile
)

func (t Type) String() string {
	switch t {
	case UploadFile:
		return "UploadFile"
	case DeleteFile:
		return "DeleteFile"
	default:
		return "Unknown"
	}
}

// Action is one durable, pending remote mutation.
type Action struct {
	ActionKey  int64  `json:"actionKey"`
	Type       Type   `json:"type"`
	RemotePath string `json:"remotePath"`
	SourcePath string `json:"sourcePath,omitempty"`
	IsComplete bool   `json:"isComplete"`

	// filename is the on-disk name backing this action, stamped by
	// LogAction and consulted by ReleaseAction. It is not serialized:
	// the action's filename IS its ActionKey, recomputed on read.
	filename string
}

// record is the on-disk encoding of Action, self-describing and
// round-trip safe via encoding/json (there is no domain-specific wire
// format here worth hand-rolling: this is exactly what a small,
// versionable structured record is for).
type record struct {
	Type       Type   `json:"type"`
	RemotePath string `json:"remotePath"`
	SourcePath string `json:"sourcePath,omitempty"`
	IsComplete bool   `json:"isComplete"`
}

func marshal(a *Action) ([]byte, error) {
	b, err := json.Marshal(record{
		Type:       a.Type,
		RemotePath: a.RemotePath,
		SourcePath: a.SourcePath,
		IsComplete: a.IsComplete,
	})

	return b, errors.Wrap(err, "marshaling action record")
}

func unmarshal(key int64, filename string, data []byte) (*Action, error) {
	var r record

	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "unmarshaling action record")
	}

	return &Action{
		ActionKey:  key,
		Type:       r.Type,
		RemotePath: r.RemotePath,
		SourcePath: r.SourcePath,
		IsComplete: r.IsComplete,
		filename:   filename,
	}, nil
}
