package harness

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sync"
	"testing"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Facts describes the host a test run executes on, shaped the way an agent
// reports its own facts. Gathered once per process and cached; both the
// skip gates and generated agent configs read from here.
type Facts struct {
	Hostname        string
	Username        string
	UID             int
	OS              string
	OSFamily        string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	KernelArch      string
	CPUArch         string
	CPUCount        int
	MemoryMB        uint64
	RunID           string
}

var (
	factsOnce   sync.Once
	cachedFacts *Facts
	factsErr    error
)

// CurrentFacts gathers host facts on first use and caches them for the
// rest of the process.
func CurrentFacts(ctx context.Context) (*Facts, error) {
	factsOnce.Do(func() {
		cachedFacts, factsErr = gatherFacts(ctx)
	})
	return cachedFacts, factsErr
}

// MustFacts is CurrentFacts for tests.
func MustFacts(t *testing.T) *Facts {
	t.Helper()
	f, err := CurrentFacts(context.Background())
	if err != nil {
		t.Fatalf("failed to gather host facts: %v", err)
	}
	return f
}

func gatherFacts(ctx context.Context) (*Facts, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect host info: %w", err)
	}
	f := &Facts{
		Hostname:        info.Hostname,
		OS:              runtime.GOOS,
		OSFamily:        info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
		CPUArch:         runtime.GOARCH,
		CPUCount:        runtime.NumCPU(),
		UID:             os.Getuid(),
		RunID:           CurrentRunID(),
	}
	if u, err := user.Current(); err == nil {
		f.Username = u.Username
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		f.MemoryMB = vm.Total / 1e6
	}
	return f, nil
}

// IsRoot reports whether the current user can do privileged things. Always
// false on windows, where uid never means root.
func (f *Facts) IsRoot() bool {
	return f.OS != "windows" && f.UID == 0
}

// Map renders the facts as the static overrides section of an agent
// config, so generated agents describe the host truthfully.
func (f *Facts) Map() map[string]any {
	return map[string]any{
		"host":             f.Hostname,
		"user":             f.Username,
		"os":               f.OS,
		"os_family":        f.OSFamily,
		"platform":         f.Platform,
		"platform_version": f.PlatformVersion,
		"kernel_version":   f.KernelVersion,
		"cpu_arch":         f.CPUArch,
		"num_cpus":         f.CPUCount,
		"mem_total":        f.MemoryMB,
		"run_id":           f.RunID,
	}
}
