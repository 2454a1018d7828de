package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/basaltproject/go-harness/internal/helpers"
)

// Environments a file tree serves. The server resolves policies and data
// per environment, so every tree carries one directory per environment.
const (
	EnvBase = "base"
	EnvProd = "prod"
)

type FileTreeOpt func(*FileTree)

// NewFileTree returns a tree fixture rooted at root/name. An empty root
// selects a temporary directory owned by the fixture.
func NewFileTree(root, name string, opts ...FileTreeOpt) *FileTree {
	f := &FileTree{root: root, name: name}
	for _, opt := range opts {
		opt(f)
	}
	if len(f.envs) == 0 {
		f.envs = []string{EnvBase, EnvProd}
	}
	return f
}

func FileTreeEnvs(envs ...string) FileTreeOpt {
	return func(f *FileTree) {
		f.envs = envs
	}
}

// NewPolicyTree returns the tree a server serves policy files from.
func NewPolicyTree(root string) *FileTree {
	return NewFileTree(root, "policy-tree")
}

// NewDataTree returns the tree a server resolves agent data from.
func NewDataTree(root string) *FileTree {
	return NewFileTree(root, "data-tree")
}

// FileTree is an on-disk tree of test files with one subdirectory per
// environment. Files written into it are dedented like WriteTempFile.
type FileTree struct {
	BaseFixture
	log      *zap.Logger
	root     string
	name     string
	envs     []string
	ownsRoot bool
}

func (f *FileTree) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.root == "" {
		root, err := os.MkdirTemp("", "basalt-trees")
		if err != nil {
			return fmt.Errorf("failed to create tree root: %w", err)
		}
		f.root = root
		f.ownsRoot = true
	}
	for _, env := range f.envs {
		if err := os.MkdirAll(f.join(env), 0o755); err != nil {
			return fmt.Errorf("failed to create %v environment: %w", env, err)
		}
	}
	return nil
}

func (f *FileTree) TearDown(ctx context.Context) error {
	if f.ownsRoot {
		return os.RemoveAll(f.root)
	}
	return os.RemoveAll(filepath.Join(f.root, f.name))
}

func (f *FileTree) Name() string {
	return f.name
}

// Dir returns the directory backing env.
func (f *FileTree) Dir(env string) (string, error) {
	if err := f.checkEnv(env); err != nil {
		return "", err
	}
	return f.join(env), nil
}

// Dirs returns one directory list per environment, shaped for the roots
// section of a server config.
func (f *FileTree) Dirs() map[string][]string {
	dirs := make(map[string][]string, len(f.envs))
	for _, env := range f.envs {
		dirs[env] = []string{f.join(env)}
	}
	return dirs
}

// WriteFile puts a file into env, creating parent directories as needed.
// Contents lose one leading newline and their common indentation.
func (f *FileTree) WriteFile(env, name, contents string) (string, error) {
	if err := f.checkEnv(env); err != nil {
		return "", err
	}
	path := filepath.Join(f.join(env), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %v: %w", path, err)
	}
	body := helpers.Dedent(helpers.StripLeadingNewline(contents))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %v: %w", path, err)
	}
	f.log.Debug("wrote tree file",
		zap.String("tree", f.name), zap.String("env", env), zap.String("path", path))
	return path, nil
}

// Remove deletes a previously written file. Missing files are fine.
func (f *FileTree) Remove(env, name string) error {
	if err := f.checkEnv(env); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(f.join(env), name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileTree) checkEnv(env string) error {
	for _, e := range f.envs {
		if e == env {
			return nil
		}
	}
	return fmt.Errorf("environment can only be one of %v, not %q", f.envs, env)
}

func (f *FileTree) join(env string) string {
	return filepath.Join(f.root, f.name, env)
}
