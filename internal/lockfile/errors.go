package lockfile

import "github.com/juju/errors"

// ErrTimeout is the cause of the error Scoped returns when its timeout
// elapses before the lock could be taken. Acquire itself reports a timeout
// as (false, nil). Callers match it with IsTimeout and never import
// gofrs/flock directly (Design Note: narrow capability contracts).
var ErrTimeout = errors.New("timeout acquiring lock")

// IsTimeout reports whether err (or its cause) is ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Cause(err) == ErrTimeout
}
