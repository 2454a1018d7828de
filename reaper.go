package harness

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// reapWait bounds each escalation step. A cooperative daemon exits well
// within it; anything slower gets the next signal.
const reapWait = 3 * time.Second

// ReapReport says what happened to each stray process.
type ReapReport struct {
	Terminated []int32
	Killed     []int32
	Survivors  []int32
}

// Total counts every process the reaper touched.
func (r ReapReport) Total() int {
	return len(r.Terminated) + len(r.Killed) + len(r.Survivors)
}

type ReaperOpt func(*reaperOptions)

type reaperOptions struct {
	wait   time.Duration
	parent int32
}

// ReapWait overrides how long the reaper waits between escalation steps.
func ReapWait(wait time.Duration) ReaperOpt {
	return func(o *reaperOptions) {
		o.wait = wait
	}
}

// ReapParent reaps below a different process than the current one.
func ReapParent(pid int32) ReaperOpt {
	return func(o *reaperOptions) {
		o.parent = pid
	}
}

// ReapStrayProcesses terminates everything still running below the current
// process, children before parents. Each process gets a terminate, a
// bounded wait, a kill, and another bounded wait; whatever survives is
// reported and left alone.
func ReapStrayProcesses(ctx context.Context, log *zap.Logger, opts ...ReaperOpt) (ReapReport, error) {
	o := &reaperOptions{wait: reapWait, parent: int32(os.Getpid())}
	for _, opt := range opts {
		opt(o)
	}
	if log == nil {
		log = logger()
	}

	parent, err := process.NewProcessWithContext(ctx, o.parent)
	if err != nil {
		return ReapReport{}, fmt.Errorf("failed to inspect process %v: %w", o.parent, err)
	}
	children := descendants(ctx, parent)
	if len(children) == 0 {
		log.Info("no stray processes found")
		return ReapReport{}, nil
	}
	return ReapProcesses(ctx, log, children, opts...)
}

// ReapProcesses terminates the given processes: terminate, bounded wait,
// kill, bounded wait, give up. The order given is the order signalled.
func ReapProcesses(ctx context.Context, log *zap.Logger, procs []*process.Process, opts ...ReaperOpt) (ReapReport, error) {
	o := &reaperOptions{wait: reapWait}
	for _, opt := range opts {
		opt(o)
	}
	if log == nil {
		log = logger()
	}
	report := ReapReport{}

	log.Warn("test suite left stray processes running, killing those processes",
		zap.Int("count", len(procs)), zap.Int32s("pids", pids(procs)))

	for _, p := range procs {
		if err := p.TerminateWithContext(ctx); err != nil {
			log.Debug("failed to terminate process", zap.Int32("pid", p.Pid), zap.Error(err))
		}
	}
	gone, alive := waitProcs(ctx, procs, o.wait)
	for _, p := range gone {
		report.Terminated = append(report.Terminated, p.Pid)
		log.Debug("process terminated", zap.Int32("pid", p.Pid))
	}

	for _, p := range alive {
		if err := p.KillWithContext(ctx); err != nil {
			log.Debug("failed to kill process", zap.Int32("pid", p.Pid), zap.Error(err))
		}
	}
	gone, alive = waitProcs(ctx, alive, o.wait)
	for _, p := range gone {
		report.Killed = append(report.Killed, p.Pid)
		log.Debug("process killed", zap.Int32("pid", p.Pid))
	}

	for _, p := range alive {
		report.Survivors = append(report.Survivors, p.Pid)
		name, _ := p.NameWithContext(ctx)
		cmdline, _ := p.CmdlineWithContext(ctx)
		log.Warn("process survived SIGKILL, giving up",
			zap.Int32("pid", p.Pid), zap.String("name", name), zap.String("cmdline", cmdline))
	}
	return report, nil
}

// FindStrayProcesses scans the process table for processes carrying the
// harness run marker. An empty runID matches any harness run.
func FindStrayProcesses(ctx context.Context, runID string) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	self := int32(os.Getpid())
	strays := []*process.Process{}
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		environ, err := p.EnvironWithContext(ctx)
		if err != nil {
			continue
		}
		for _, kv := range environ {
			if !strings.HasPrefix(kv, RunIDEnvVar+"=") {
				continue
			}
			if runID == "" || kv == RunIDEnvVar+"="+runID {
				strays = append(strays, p)
			}
			break
		}
	}
	return strays, nil
}

// descendants walks the process tree breadth first, so parents come before
// their children and reversing yields children first.
func descendants(ctx context.Context, parent *process.Process) []*process.Process {
	out := []*process.Process{}
	queue := []*process.Process{parent}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := next.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	slices.Reverse(out)
	return out
}

// waitProcs polls until every process exits or the wait window closes.
// Zombies count as gone; they stay in the table until someone reaps them
// but no longer run anything.
func waitProcs(ctx context.Context, procs []*process.Process, wait time.Duration) (gone, alive []*process.Process) {
	deadline := time.Now().Add(wait)
	alive = procs
	for {
		var still []*process.Process
		for _, p := range alive {
			running, err := p.IsRunningWithContext(ctx)
			if err != nil || !running {
				gone = append(gone, p)
				continue
			}
			if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
				gone = append(gone, p)
				continue
			}
			still = append(still, p)
		}
		alive = still
		if len(alive) == 0 || time.Now().After(deadline) {
			return gone, alive
		}
		select {
		case <-ctx.Done():
			return gone, alive
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func pids(procs []*process.Process) []int32 {
	out := make([]int32, len(procs))
	for i, p := range procs {
		out[i] = p.Pid
	}
	return out
}

// Reaper is a session fixture that cleans up whatever processes the run
// left behind. Add it first: reverse-order teardown then runs it last,
// after every other fixture had its chance to stop its own children.
type Reaper struct {
	BaseFixture
	log    *zap.Logger
	wait   time.Duration
	once   sync.Once
	report ReapReport
}

type ReaperFixtureOpt func(*Reaper)

func NewReaper(opts ...ReaperFixtureOpt) *Reaper {
	f := &Reaper{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ReaperWait overrides the escalation wait of the final reap.
func ReaperWait(wait time.Duration) ReaperFixtureOpt {
	return func(f *Reaper) {
		f.wait = wait
	}
}

func (f *Reaper) SetUp(ctx context.Context) error {
	f.log = logger()
	return nil
}

func (f *Reaper) TearDown(ctx context.Context) error {
	var err error
	f.once.Do(func() {
		opts := []ReaperOpt{}
		if f.wait > 0 {
			opts = append(opts, ReapWait(f.wait))
		}
		f.report, err = ReapStrayProcesses(ctx, f.log, opts...)
	})
	return err
}

// Report returns what the final reap did.
func (f *Reaper) Report() ReapReport {
	return f.report
}
