package harness

import (
	"fmt"
	"os"
	"path/filepath"
)

// Default ports a test server listens on. Chosen away from the product's
// production ports so a harness run never collides with a real install.
const (
	DefaultPublishPort = 4605
	DefaultReturnPort  = 4606
)

type ServerConfigOpt func(*ServerConfig)

// NewServerConfig describes the configuration of a basalt-server rooted at
// root. Options lay overrides on top of the defaults; Render writes the
// final document plus the files the server expects next to it.
func NewServerConfig(root string, opts ...ServerConfigOpt) *ServerConfig {
	c := &ServerConfig{
		root:        root,
		id:          "server",
		publishPort: DefaultPublishPort,
		returnPort:  DefaultReturnPort,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func ServerID(id string) ServerConfigOpt {
	return func(c *ServerConfig) {
		c.id = id
	}
}

func ServerPorts(publish, ret int) ServerConfigOpt {
	return func(c *ServerConfig) {
		c.publishPort = publish
		c.returnPort = ret
	}
}

func ServerPolicyTree(tree *FileTree) ServerConfigOpt {
	return func(c *ServerConfig) {
		c.policyTree = tree
	}
}

func ServerDataTree(tree *FileTree) ServerConfigOpt {
	return func(c *ServerConfig) {
		c.dataTree = tree
	}
}

func ServerReturnStore(db *ReturnDB) ServerConfigOpt {
	return func(c *ServerConfig) {
		c.returnDB = db
	}
}

func ServerOverrides(overrides Config) ServerConfigOpt {
	return func(c *ServerConfig) {
		c.overrides = append(c.overrides, overrides)
	}
}

type ServerConfig struct {
	root        string
	id          string
	publishPort int
	returnPort  int
	policyTree  *FileTree
	dataTree    *FileTree
	returnDB    *ReturnDB
	overrides   []Config
}

// Defaults returns the document a test server starts from before any
// overrides. Paths all live under the config root so parallel servers
// never share state.
func (c *ServerConfig) Defaults() Config {
	cfg := Config{
		"id":                c.id,
		"interface":         "127.0.0.1",
		"publish_port":      c.publishPort,
		"return_port":       c.returnPort,
		"worker_count":      3,
		"auto_accept":       true,
		"open_mode":         false,
		"root_dir":          c.root,
		"pki_dir":           filepath.Join(c.root, "etc", "basalt", "pki", "server"),
		"cache_dir":         filepath.Join(c.root, "var", "cache", "server"),
		"sock_dir":          filepath.Join(c.root, "var", "run", "server"),
		"log_file":          filepath.Join(c.root, "logs", "server.log"),
		"log_level":         "debug",
		"known_agents_file": filepath.Join(c.root, "etc", "basalt", "known_agents"),
		"reactors":          []any{},
	}
	if c.policyTree != nil {
		cfg["policy_roots"] = c.policyTree.Dirs()
	}
	if c.dataTree != nil {
		cfg["data_roots"] = c.dataTree.Dirs()
	}
	if c.returnDB != nil {
		cfg["returner"] = c.returnDB.ReturnerConfig()
	}
	return cfg
}

// Config resolves defaults plus overrides into the final document.
func (c *ServerConfig) Config() (Config, error) {
	return merged(c.Defaults(), c.overrides...)
}

// Dir returns the directory the config renders into.
func (c *ServerConfig) Dir() string {
	return filepath.Join(c.root, "etc", "basalt")
}

// Path returns where the rendered config lives.
func (c *ServerConfig) Path() string {
	return filepath.Join(c.Dir(), "server.yaml")
}

// Render writes server.yaml plus the agent registry, and returns the
// config path.
func (c *ServerConfig) Render() (string, error) {
	cfg, err := c.Config()
	if err != nil {
		return "", err
	}
	path, err := cfg.Render(c.Dir(), "server.yaml")
	if err != nil {
		return "", err
	}
	if err := writeKnownAgentsFile(cfg); err != nil {
		return "", err
	}
	return path, nil
}

// writeKnownAgentsFile creates the registry of accepted agents. Everyone
// may read it, only the owner may change it, or the server refuses to
// start.
func writeKnownAgentsFile(cfg Config) error {
	path, ok := cfg["known_agents_file"].(string)
	if !ok || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("failed to write agent registry: %w", err)
	}
	return os.Chmod(path, 0o644)
}

// ServerSettings is the typed view of a resolved server config.
type ServerSettings struct {
	ID              string              `yaml:"id"`
	Interface       string              `yaml:"interface"`
	PublishPort     int                 `yaml:"publish_port"`
	ReturnPort      int                 `yaml:"return_port"`
	WorkerCount     int                 `yaml:"worker_count"`
	AutoAccept      bool                `yaml:"auto_accept"`
	OpenMode        bool                `yaml:"open_mode"`
	RootDir         string              `yaml:"root_dir"`
	PKIDir          string              `yaml:"pki_dir"`
	CacheDir        string              `yaml:"cache_dir"`
	SockDir         string              `yaml:"sock_dir"`
	LogFile         string              `yaml:"log_file"`
	LogLevel        string              `yaml:"log_level"`
	KnownAgentsFile string              `yaml:"known_agents_file"`
	PolicyRoots     map[string][]string `yaml:"policy_roots"`
	DataRoots       map[string][]string `yaml:"data_roots"`
}
