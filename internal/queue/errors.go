// Package queue implements the Queue Service of spec.md §4.C: a single
// FIFO-persisted job queue plus a "current job" marker, both stored as JSON
// files under a RAM-backed data directory and serialized by one queue lock
// file (grounded on
// _examples/original_source/wsgi/services/tsim_queue_service.py).
package queue

import "github.com/juju/errors"

// ErrorKind enumerates the structured queue error kinds.
type ErrorKind int

const (
	KindLockTimeout ErrorKind = iota + 1
	KindCorruption
)

func (k ErrorKind) String() string {
	switch k {
	case KindLockTimeout:
		return "LockTimeout"
	case KindCorruption:
		return "QueueCorruption"
	default:
		return "Unknown"
	}
}

// Error is the structured error type every Service method returns on
// failure.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, cause error, format string, args ...interface{}) error {
	return errors.Trace(&Error{
		Kind:    kind,
		Message: errors.Errorf(format, args...).Error(),
		cause:   cause,
	})
}

// KindOf extracts the ErrorKind from err, if it is a *queue.Error.
func KindOf(err error) (ErrorKind, bool) {
	qerr, ok := errors.Cause(err).(*Error)
	if !ok {
		return 0, false
	}
	return qerr.Kind, true
}
