package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basaltproject/go-harness/internal/helpers"
)

// WriteTempFile writes a support file for t and removes it when t finishes.
// Contents lose one leading newline and their common indentation, so raw
// string literals can be written naturally inside test bodies. An empty dir
// selects a fresh per-test directory.
func WriteTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %v: %v", path, err)
	}
	body := helpers.Dedent(helpers.StripLeadingNewline(contents))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write %v: %v", path, err)
	}
	t.Cleanup(func() {
		os.Remove(path)
	})
	return path
}

// TestDir creates a directory named after t, so daemon logs and config
// paths read back to the test that produced them. Removed when t finishes.
func TestDir(t *testing.T) string {
	t.Helper()
	return TempDir(t, t.TempDir(), helpers.SanitizeName(t.Name()))
}

// TempDir creates a directory that lives until t finishes. A non-empty
// name yields root/name, otherwise a random directory under root.
func TempDir(t *testing.T, root, name string) string {
	t.Helper()
	if root == "" {
		root = os.TempDir()
	}
	var path string
	if name == "" {
		var err error
		if path, err = os.MkdirTemp(root, "harness"); err != nil {
			t.Fatalf("failed to create temp directory: %v", err)
		}
	} else {
		path = filepath.Join(root, name)
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatalf("failed to create %v: %v", path, err)
		}
	}
	t.Cleanup(func() {
		os.RemoveAll(path)
	})
	return path
}
