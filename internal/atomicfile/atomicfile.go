// Package atomicfile provides the temp-then-rename write pattern required
// throughout this module (§4.B, §4.C, §4.D, §6: "all writes atomic via
// temp+rename under the appropriate lock"). It follows the same shape as
// github.com/juju/utils' atomicfile helper: write to a sibling ".tmp" file,
// fsync it, then rename over the destination so no reader ever observes a
// partial write.
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// WriteFile atomically replaces path with data, creating parent directories
// if necessary. perm applies to the temp file before rename.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return errors.Annotatef(err, "creating directory %q", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Annotatef(err, "creating temp file in %q", dir)
	}
	tmpName := tmp.Name()
	// Ensure we never leak the temp file on an error path below.
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return errors.Annotate(err, "chmod temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Annotate(err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Annotate(err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Annotate(err, "closing temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Annotatef(err, "renaming %q to %q", tmpName, path)
	}
	success = true
	return nil
}

// WriteJSON marshals v as indented JSON and atomically writes it to path.
func WriteJSON(path string, v interface{}, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Annotatef(err, "marshalling %q", path)
	}
	return WriteFile(path, data, perm)
}

// ReadJSON reads and unmarshals the JSON document at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Annotatef(err, "unmarshalling %q", path)
	}
	return nil
}

// IsOrphanTemp reports whether name looks like a leftover ".tmp" file from a
// crashed WriteFile (Design Note: "the next holder may see a .tmp file ...
// define recovery as: ignore orphan .tmp files older than a threshold").
func IsOrphanTemp(name string) bool {
	return filepath.Ext(name) == ".tmp"
}
