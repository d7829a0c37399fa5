// Package errorlogger implements a sink for non-fatal errors (snapshot
// disposal failures, staged upload file cleanup failures) that must never
// propagate to the caller.
package errorlogger

import (
	"context"

	"github.com/mirrorbackup/rtbackup/logging"
)

// Logger records a non-fatal error with its message and detail.
type Logger interface {
	Log(message, detail string, err error)
}

// FromContext returns a Logger that writes to the module logger carried
// on ctx (logging.GetContextLoggerFunc("errors")), bound once so it can be
// handed to collaborators (snapshotref.Tracker, actionlog.Worker) that
// outlive any single request context.
func FromContext(ctx context.Context) Logger {
	return &contextLogger{log: contextLoggerFunc(ctx)}
}

var contextLoggerFunc = logging.GetContextLoggerFunc("errors")

type contextLogger struct {
	log logging.Logger
}

func (c *contextLogger) Log(message, detail string, err error) {
	if detail != "" {
		c.log.Errorf("%s (%s): %v", message, detail, err)
		return
	}

	c.log.Errorf("%s: %v", message, err)
}
