// Package registry implements the Registry Manager of spec.md §4.B: host
// registration (TOCTOU-free), reference-counted host/neighbor leases,
// per-router exclusive locks, and deadlock-free atomic multi-router
// acquisition. It owns the four persisted tables described in §3 and is the
// only component that mutates them.
package registry

import "github.com/juju/errors"

// ErrorKind enumerates the structured registry error kinds from spec.md §7.
// Rather than distinct Go error types per kind (which the Python original
// expressed as a small exception hierarchy), we use one error type carrying
// a Kind, the way a Rust Result<T, RegistryError> enum would be expressed,
// and let github.com/juju/errors supply Trace/Annotate/Cause plumbing.
type ErrorKind int

const (
	KindLockTimeout ErrorKind = iota + 1
	KindCollision
	KindNotFound
	KindCorruption
	KindCapacity
)

func (k ErrorKind) String() string {
	switch k {
	case KindLockTimeout:
		return "LockTimeout"
	case KindCollision:
		return "Collision"
	case KindNotFound:
		return "NotFound"
	case KindCorruption:
		return "RegistryCorruption"
	case KindCapacity:
		return "Capacity"
	default:
		return "Unknown"
	}
}

// Error is the structured error type returned by every Manager operation
// that can fail. Callers match on Kind rather than string-matching messages.
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

// Unwrap lets errors.Cause / errors.Is see through to the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, cause error, format string, args ...interface{}) error {
	return errors.Trace(&Error{
		Kind:    kind,
		Message: errors.Errorf(format, args...).Error(),
		cause:   cause,
	})
}

// KindOf extracts the ErrorKind from err, if it (or something it wraps) is
// a *registry.Error. errors.Cause walks down through the *errors.Err chain
// produced by errors.Trace/Annotate to the underlying *Error.
func KindOf(err error) (ErrorKind, bool) {
	rerr, ok := errors.Cause(err).(*Error)
	if !ok {
		return 0, false
	}
	return rerr.Kind, true
}
