package harness

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type ServerOpt func(*Server)

// NewServer runs a basalt-server for the duration of the fixture,
// configured from config. The fixture renders the config, raises the open
// file limits, starts the daemon, and waits until it accepts connections.
func NewServer(config *ServerConfig, opts ...ServerOpt) *Server {
	s := &Server{config: config, binary: "basalt-server"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerBinary points the fixture at a specific executable, for example a
// freshly built one.
func ServerBinary(path string) ServerOpt {
	return func(s *Server) {
		s.binary = path
	}
}

func ServerStartTimeout(timeout time.Duration) ServerOpt {
	return func(s *Server) {
		s.startTimeout = timeout
	}
}

// ServerReadyWhen replaces the default port probe.
func ServerReadyWhen(probe func(ctx context.Context) error) ServerOpt {
	return func(s *Server) {
		s.ready = probe
	}
}

type Server struct {
	BaseFixture
	log          *zap.Logger
	config       *ServerConfig
	binary       string
	startTimeout time.Duration
	ready        func(ctx context.Context) error
	settings     ServerSettings
	daemon       *Daemon
}

func (s *Server) SetUp(ctx context.Context) error {
	s.log = logger()

	soft, hard, err := RaiseFileLimits(3072, 4096)
	if err != nil {
		return err
	}
	s.log.Debug("open file limits", zap.Uint64("soft", soft), zap.Uint64("hard", hard))

	path, err := s.config.Render()
	if err != nil {
		return err
	}
	cfg, err := s.config.Config()
	if err != nil {
		return err
	}
	if err := cfg.Decode(&s.settings); err != nil {
		return fmt.Errorf("failed to decode server config: %w", err)
	}

	ready := s.ready
	if ready == nil {
		ready = TCPPortReady(s.settings.Interface, s.settings.ReturnPort)
	}
	s.daemon = NewDaemon(
		[]string{s.binary, "--config", path},
		DaemonName(s.settings.ID),
		DaemonLogFile(s.settings.LogFile),
		DaemonStartTimeout(s.startTimeout),
		DaemonReadyWhen(ready),
	)
	return s.daemon.SetUp(ctx)
}

func (s *Server) TearDown(ctx context.Context) error {
	if s.daemon == nil {
		return nil
	}
	return s.daemon.TearDown(ctx)
}

// Settings returns the resolved configuration the server runs with.
func (s *Server) Settings() ServerSettings {
	return s.settings
}

// PublishAddr is where agents subscribe for jobs.
func (s *Server) PublishAddr() string {
	return net.JoinHostPort(s.settings.Interface, strconv.Itoa(s.settings.PublishPort))
}

// ReturnAddr is where agents deliver job results.
func (s *Server) ReturnAddr() string {
	return net.JoinHostPort(s.settings.Interface, strconv.Itoa(s.settings.ReturnPort))
}

// PID returns the server's process id.
func (s *Server) PID() int {
	if s.daemon == nil {
		return 0
	}
	return s.daemon.PID()
}

// Running reports whether the daemon is alive.
func (s *Server) Running() bool {
	return s.daemon != nil && s.daemon.Running()
}
