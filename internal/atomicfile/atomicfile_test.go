package atomicfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/atomicfile"
)

func TestWriteFileCreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "data.json")

	if err := atomicfile.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("got %q, want %q", got, "first")
	}

	if err := atomicfile.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if atomicfile.IsOrphanTemp(e.Name()) {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	in := payload{Name: "q1", Count: 3}

	if err := atomicfile.WriteJSON(path, in, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out payload
	if err := atomicfile.ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var out map[string]string
	if err := atomicfile.ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out); err == nil {
		t.Fatal("expected error reading missing file")
	}
}
