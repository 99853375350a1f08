// Package logger centralizes the loggo.Logger construction so every
// component asks for a logger the same way the teacher's own packages do:
// one named, package-scoped logger obtained at init time.
package logger

import "github.com/juju/loggo/v2"

// Get returns a named logger under the "tsimd" root, mirroring the Python
// service's "tsim.<component>" logger names (tsim.locks, tsim.queue,
// tsim.progress_tracker, ...).
func Get(component string) loggo.Logger {
	return loggo.GetLogger("tsimd." + component)
}
