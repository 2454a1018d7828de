package harness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type AgentOpt func(*Agent)

// NewAgent runs a basalt-agent for the duration of the fixture, configured
// from config. The agent dials out to its server, so readiness is its
// pidfile rather than a listening port.
func NewAgent(config *AgentConfig, opts ...AgentOpt) *Agent {
	a := &Agent{config: config, binary: "basalt-agent"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func AgentBinary(path string) AgentOpt {
	return func(a *Agent) {
		a.binary = path
	}
}

func AgentStartTimeout(timeout time.Duration) AgentOpt {
	return func(a *Agent) {
		a.startTimeout = timeout
	}
}

// AgentReadyWhen replaces the default pidfile probe.
func AgentReadyWhen(probe func(ctx context.Context) error) AgentOpt {
	return func(a *Agent) {
		a.ready = probe
	}
}

type Agent struct {
	BaseFixture
	log          *zap.Logger
	config       *AgentConfig
	binary       string
	startTimeout time.Duration
	ready        func(ctx context.Context) error
	settings     AgentSettings
	daemon       *Daemon
}

func (a *Agent) SetUp(ctx context.Context) error {
	a.log = logger()

	path, err := a.config.Render()
	if err != nil {
		return err
	}
	cfg, err := a.config.Config()
	if err != nil {
		return err
	}
	if err := cfg.Decode(&a.settings); err != nil {
		return fmt.Errorf("failed to decode agent config: %w", err)
	}

	ready := a.ready
	if ready == nil {
		ready = PIDFileReady(a.settings.PIDFile)
	}
	a.daemon = NewDaemon(
		[]string{a.binary, "--config", path},
		DaemonName(a.settings.ID),
		DaemonLogFile(a.settings.LogFile),
		DaemonStartTimeout(a.startTimeout),
		DaemonReadyWhen(ready),
	)
	if err := a.daemon.SetUp(ctx); err != nil {
		return err
	}
	a.log.Debug("agent connected",
		zap.String("agent", a.settings.ID), zap.String("server", a.settings.Server))
	return nil
}

func (a *Agent) TearDown(ctx context.Context) error {
	if a.daemon == nil {
		return nil
	}
	return a.daemon.TearDown(ctx)
}

// Settings returns the resolved configuration the agent runs with.
func (a *Agent) Settings() AgentSettings {
	return a.settings
}

// ID returns the agent id the server knows this agent by.
func (a *Agent) ID() string {
	return a.settings.ID
}

// PID returns the agent's process id.
func (a *Agent) PID() int {
	if a.daemon == nil {
		return 0
	}
	return a.daemon.PID()
}

// Running reports whether the daemon is alive.
func (a *Agent) Running() bool {
	return a.daemon != nil && a.daemon.Running()
}
