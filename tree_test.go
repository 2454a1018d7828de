package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTreeSetUp(t *testing.T) {
	ctx := context.Background()
	tree := NewPolicyTree(t.TempDir())
	require.NoError(t, tree.SetUp(ctx))
	t.Cleanup(func() { tree.TearDown(ctx) })

	for _, env := range []string{EnvBase, EnvProd} {
		dir, err := tree.Dir(env)
		require.NoError(t, err)
		assert.DirExists(t, dir)
	}
}

func TestFileTreeWriteFile(t *testing.T) {
	ctx := context.Background()
	tree := NewPolicyTree(t.TempDir())
	require.NoError(t, tree.SetUp(ctx))
	t.Cleanup(func() { tree.TearDown(ctx) })

	path, err := tree.WriteFile(EnvBase, "top.pol", `
	base:
	  '*':
	    - core
	`)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "base:\n  '*':\n    - core\n", string(data))

	require.NoError(t, tree.Remove(EnvBase, "top.pol"))
	assert.NoFileExists(t, path)
	require.NoError(t, tree.Remove(EnvBase, "top.pol"))
}

func TestFileTreeRejectsUnknownEnv(t *testing.T) {
	ctx := context.Background()
	tree := NewDataTree(t.TempDir())
	require.NoError(t, tree.SetUp(ctx))
	t.Cleanup(func() { tree.TearDown(ctx) })

	_, err := tree.WriteFile("staging", "top.pol", "contents")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment can only be one of")
}

func TestFileTreeCustomEnvs(t *testing.T) {
	ctx := context.Background()
	tree := NewFileTree(t.TempDir(), "policy-tree", FileTreeEnvs("base", "staging"))
	require.NoError(t, tree.SetUp(ctx))
	t.Cleanup(func() { tree.TearDown(ctx) })

	_, err := tree.WriteFile("staging", "top.pol", "contents")
	require.NoError(t, err)
	_, err = tree.Dir(EnvProd)
	require.Error(t, err)
}

func TestFileTreeOwnsTemporaryRoot(t *testing.T) {
	ctx := context.Background()
	tree := NewDataTree("")
	require.NoError(t, tree.SetUp(ctx))

	dir, err := tree.Dir(EnvBase)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	require.NoError(t, tree.TearDown(ctx))
	assert.NoDirExists(t, dir)
}

func TestFileTreeDirs(t *testing.T) {
	tree := NewPolicyTree(filepath.Join("srv", "trees"))
	dirs := tree.Dirs()
	require.Contains(t, dirs, EnvBase)
	require.Contains(t, dirs, EnvProd)
	assert.Equal(t, []string{filepath.Join("srv", "trees", "policy-tree", "base")}, dirs[EnvBase])
}

func TestFixturesWithTrees(t *testing.T) {
	ctx := context.Background()
	fixtures := NewFixtures()
	defer fixtures.RecoverTearDown(ctx)

	require.NoError(t, fixtures.AddByName(ctx, "policy", NewPolicyTree(t.TempDir())))
	require.NoError(t, fixtures.AddByName(ctx, "data", NewDataTree(t.TempDir())))
	assert.Equal(t, []string{"policy", "data"}, fixtures.Names())

	require.NoError(t, fixtures.TearDown(ctx))
}
