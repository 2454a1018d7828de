package harness

import (
	"path/filepath"
)

type AgentConfigOpt func(*AgentConfig)

// NewAgentConfig describes the configuration of a basalt-agent rooted at
// root. By default the agent points at a local test server.
func NewAgentConfig(root string, opts ...AgentConfigOpt) *AgentConfig {
	c := &AgentConfig{
		root:       root,
		id:         "agent",
		serverHost: "127.0.0.1",
		serverPort: DefaultReturnPort,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func AgentID(id string) AgentConfigOpt {
	return func(c *AgentConfig) {
		c.id = id
	}
}

// AgentServer points the agent at a specific server endpoint.
func AgentServer(host string, port int) AgentConfigOpt {
	return func(c *AgentConfig) {
		c.serverHost = host
		c.serverPort = port
	}
}

// AgentFacts sets static fact overrides the agent reports instead of
// collecting its own.
func AgentFacts(facts map[string]any) AgentConfigOpt {
	return func(c *AgentConfig) {
		c.facts = facts
	}
}

func AgentOverrides(overrides Config) AgentConfigOpt {
	return func(c *AgentConfig) {
		c.overrides = append(c.overrides, overrides)
	}
}

type AgentConfig struct {
	root       string
	id         string
	serverHost string
	serverPort int
	facts      map[string]any
	overrides  []Config
}

// Defaults returns the document a test agent starts from before overrides.
func (c *AgentConfig) Defaults() Config {
	cfg := Config{
		"id":              c.id,
		"server":          c.serverHost,
		"server_port":     c.serverPort,
		"root_dir":        c.root,
		"pki_dir":         filepath.Join(c.root, "etc", "basalt", "pki", "agent"),
		"cache_dir":       filepath.Join(c.root, "var", "cache", "agent"),
		"sock_dir":        filepath.Join(c.root, "var", "run", "agent"),
		"pidfile":         filepath.Join(c.root, "var", "run", "agent.pid"),
		"log_file":        filepath.Join(c.root, "logs", "agent.log"),
		"log_level":       "debug",
		"accept_wait":     10,
		"request_timeout": 60,
	}
	if len(c.facts) > 0 {
		cfg["facts"] = c.facts
	}
	return cfg
}

// Config resolves defaults plus overrides into the final document.
func (c *AgentConfig) Config() (Config, error) {
	return merged(c.Defaults(), c.overrides...)
}

// Dir returns the directory the config renders into.
func (c *AgentConfig) Dir() string {
	return filepath.Join(c.root, "etc", "basalt")
}

// Path returns where the rendered config lives.
func (c *AgentConfig) Path() string {
	return filepath.Join(c.Dir(), "agent.yaml")
}

// Render writes agent.yaml and returns the config path.
func (c *AgentConfig) Render() (string, error) {
	cfg, err := c.Config()
	if err != nil {
		return "", err
	}
	return cfg.Render(c.Dir(), "agent.yaml")
}

// AgentSettings is the typed view of a resolved agent config.
type AgentSettings struct {
	ID             string         `yaml:"id"`
	Server         string         `yaml:"server"`
	ServerPort     int            `yaml:"server_port"`
	RootDir        string         `yaml:"root_dir"`
	PKIDir         string         `yaml:"pki_dir"`
	CacheDir       string         `yaml:"cache_dir"`
	SockDir        string         `yaml:"sock_dir"`
	PIDFile        string         `yaml:"pidfile"`
	LogFile        string         `yaml:"log_file"`
	LogLevel       string         `yaml:"log_level"`
	AcceptWait     int            `yaml:"accept_wait"`
	RequestTimeout int            `yaml:"request_timeout"`
	Facts          map[string]any `yaml:"facts"`
}
