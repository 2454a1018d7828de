package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTempFile(t *testing.T) {
	path := WriteTempFile(t, "", "top.pol", `
	install nginx:
	  pkg.present:
	    - refresh: true
	`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "install nginx:\n  pkg.present:\n    - refresh: true\n", string(data))
}

func TestWriteTempFileNestedName(t *testing.T) {
	dir := t.TempDir()
	path := WriteTempFile(t, dir, filepath.Join("web", "top.pol"), "contents")
	assert.Equal(t, filepath.Join(dir, "web", "top.pol"), path)
	assert.FileExists(t, path)
}

func TestWriteTempFileCleansUp(t *testing.T) {
	dir := t.TempDir()
	var path string
	t.Run("writer", func(t *testing.T) {
		path = WriteTempFile(t, dir, "gone.pol", "contents")
		assert.FileExists(t, path)
	})
	assert.NoFileExists(t, path)
}

func TestTestDir(t *testing.T) {
	path := TestDir(t)
	assert.DirExists(t, path)
	assert.Equal(t, "test_test_dir", filepath.Base(path))
	t.Run("sub case", func(t *testing.T) {
		sub := TestDir(t)
		assert.Equal(t, "test_test_dir_sub_case", filepath.Base(sub))
	})
}

func TestTempDirNamed(t *testing.T) {
	root := t.TempDir()
	path := TempDir(t, root, "run-state")
	assert.Equal(t, filepath.Join(root, "run-state"), path)
	assert.DirExists(t, path)
}

func TestTempDirCleansUp(t *testing.T) {
	root := t.TempDir()
	var path string
	t.Run("maker", func(t *testing.T) {
		path = TempDir(t, root, "")
		require.NoError(t, os.WriteFile(filepath.Join(path, "data"), []byte("x"), 0o644))
	})
	assert.NoDirExists(t, path)
}
