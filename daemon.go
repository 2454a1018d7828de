package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunIDEnvVar marks every process the harness spawns, so a later run can
// find and reap strays from a crashed one.
const RunIDEnvVar = "BASALT_HARNESS_RUN_ID"

var (
	runIDOnce sync.Once
	runID     string
)

// CurrentRunID identifies this harness process. Children of another
// harness run inherit its marker instead of minting a new one.
func CurrentRunID() string {
	runIDOnce.Do(func() {
		if id := os.Getenv(RunIDEnvVar); id != "" {
			runID = id
			return
		}
		runID = uuid.NewString()
	})
	return runID
}

// defaultStartTimeout allows CI runners extra time; they fork and page
// much slower than workstations.
func defaultStartTimeout() time.Duration {
	if os.Getenv("CI") != "" || os.Getenv("JENKINS_URL") != "" {
		return 30 * time.Second
	}
	return 10 * time.Second
}

type DaemonOpt func(*Daemon)

// NewDaemon returns a fixture that runs command as a child process for the
// lifetime of the fixture. The child carries the harness run marker in its
// environment.
func NewDaemon(command []string, opts ...DaemonOpt) *Daemon {
	d := &Daemon{command: command}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func DaemonName(name string) DaemonOpt {
	return func(d *Daemon) {
		d.name = name
	}
}

func DaemonDir(dir string) DaemonOpt {
	return func(d *Daemon) {
		d.dir = dir
	}
}

// DaemonEnv adds variables on top of the inherited environment.
func DaemonEnv(env map[string]string) DaemonOpt {
	return func(d *Daemon) {
		d.env = env
	}
}

// DaemonLogFile sends the child's stdout and stderr to path.
func DaemonLogFile(path string) DaemonOpt {
	return func(d *Daemon) {
		d.logPath = path
	}
}

func DaemonStartTimeout(timeout time.Duration) DaemonOpt {
	return func(d *Daemon) {
		d.startTimeout = timeout
	}
}

func DaemonStopTimeout(timeout time.Duration) DaemonOpt {
	return func(d *Daemon) {
		d.stopTimeout = timeout
	}
}

// DaemonReadyWhen gates SetUp on probe succeeding. Without a probe, SetUp
// returns as soon as the process started.
func DaemonReadyWhen(probe func(ctx context.Context) error) DaemonOpt {
	return func(d *Daemon) {
		d.ready = probe
	}
}

type Daemon struct {
	BaseFixture
	log          *zap.Logger
	command      []string
	name         string
	dir          string
	env          map[string]string
	logPath      string
	logFile      *os.File
	startTimeout time.Duration
	stopTimeout  time.Duration
	ready        func(ctx context.Context) error

	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

func (d *Daemon) SetUp(ctx context.Context) error {
	d.log = logger()
	if len(d.command) == 0 {
		return errors.New("daemon has no command")
	}
	if d.name == "" {
		d.name = filepath.Base(d.command[0])
	}
	if d.startTimeout == 0 {
		d.startTimeout = defaultStartTimeout()
	}
	if d.stopTimeout == 0 {
		d.stopTimeout = 10 * time.Second
	}

	cmd := exec.Command(d.command[0], d.command[1:]...)
	cmd.Dir = d.dir
	cmd.Env = append(os.Environ(), RunIDEnvVar+"="+CurrentRunID())
	for k, v := range d.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if d.logPath != "" {
		if err := os.MkdirAll(filepath.Dir(d.logPath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.Create(d.logPath)
		if err != nil {
			return fmt.Errorf("failed to create daemon log: %w", err)
		}
		d.logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	t := newTimer()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %v: %w", d.name, err)
	}
	d.cmd = cmd
	d.done = make(chan struct{})
	go func() {
		d.exitErr = cmd.Wait()
		close(d.done)
	}()

	if d.ready != nil {
		if err := d.waitReady(ctx); err != nil {
			if stopErr := d.stop(); stopErr != nil {
				d.log.Warn("failed to stop daemon after failed start",
					zap.String("daemon", d.name), zap.Error(stopErr))
			}
			return fmt.Errorf("%v did not become ready: %w", d.name, err)
		}
	}
	d.log.Debug("daemon started",
		zap.String("daemon", d.name), zap.Int("pid", cmd.Process.Pid), zap.Duration("took", t.Elapsed()))
	return nil
}

func (d *Daemon) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.startTimeout)
	defer cancel()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	return backoff.Retry(func() error {
		select {
		case <-d.done:
			return backoff.Permanent(fmt.Errorf("process exited early: %v", d.exitReason()))
		default:
		}
		return d.ready(ctx)
	}, backoff.WithContext(bo, ctx))
}

func (d *Daemon) exitReason() string {
	if d.exitErr != nil {
		return d.exitErr.Error()
	}
	return "exit status 0"
}

func (d *Daemon) TearDown(ctx context.Context) error {
	defer func() {
		if d.logFile != nil {
			d.logFile.Close()
		}
	}()
	return d.stop()
}

// stop terminates the child, politely first and by force when it lingers.
func (d *Daemon) stop() error {
	if d.cmd == nil || d.cmd.Process == nil {
		return nil
	}
	select {
	case <-d.done:
		return nil
	default:
	}

	if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to terminate %v: %w", d.name, err)
	}
	select {
	case <-d.done:
		return nil
	case <-time.After(d.stopTimeout):
	}

	d.log.Warn("daemon ignored termination, killing it",
		zap.String("daemon", d.name), zap.Int("pid", d.cmd.Process.Pid))
	if err := d.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %v: %w", d.name, err)
	}
	select {
	case <-d.done:
		return nil
	case <-time.After(d.stopTimeout):
		return fmt.Errorf("%v survived SIGKILL, giving up", d.name)
	}
}

// PID returns the child's process id, or zero before SetUp.
func (d *Daemon) PID() int {
	if d.cmd == nil || d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}

// Running reports whether the child is still alive.
func (d *Daemon) Running() bool {
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the child exits or ctx is done, returning the child's
// exit error.
func (d *Daemon) Wait(ctx context.Context) error {
	if d.done == nil {
		return errors.New("daemon was never started")
	}
	select {
	case <-d.done:
		return d.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TCPPortReady returns a readiness probe that succeeds once host:port
// accepts connections.
func TCPPortReady(host string, port int) func(ctx context.Context) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) error {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// PIDFileReady returns a probe that succeeds once the daemon wrote its
// pidfile.
func PIDFileReady(path string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pidfile not written yet: %w", err)
		}
		return nil
	}
}
