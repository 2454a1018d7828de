package harness

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/tidwall/gjson"
)

// Destructive skips t unless HARNESS_RUN_DESTRUCTIVE is set. Destructive
// tests add or remove users, packages, or services on the host they run on.
func Destructive(t *testing.T) {
	t.Helper()
	if !getEnv().RunDestructive {
		t.Skip("Destructive tests are disabled")
	}
}

// Expensive skips t unless HARNESS_RUN_EXPENSIVE is set. Expensive tests
// cost real time or money, like bootstrapping a cloud host.
func Expensive(t *testing.T) {
	t.Helper()
	if !getEnv().RunExpensive {
		t.Skip("Expensive tests are disabled")
	}
}

// RequireRoot skips t unless the current user is root.
func RequireRoot(t *testing.T) {
	t.Helper()
	if !MustFacts(t).IsRoot() {
		t.Skip("You must be logged in as root to run this test")
	}
}

// RequireOS skips t unless the host OS is one of the given GOOS names.
func RequireOS(t *testing.T, oses ...string) {
	t.Helper()
	facts := MustFacts(t)
	for _, os := range oses {
		if facts.OS == os {
			return
		}
	}
	t.Skipf("Test requires one of %v, running on %v", strings.Join(oses, ", "), facts.OS)
}

// SkipOnOS skips t when the host OS is one of the given GOOS names.
func SkipOnOS(t *testing.T, oses ...string) {
	t.Helper()
	facts := MustFacts(t)
	for _, os := range oses {
		if facts.OS == os {
			t.Skipf("Test does not run on %v", facts.OS)
		}
	}
}

// RequireArch skips t unless the build architecture matches one of archs.
func RequireArch(t *testing.T, archs ...string) {
	t.Helper()
	facts := MustFacts(t)
	for _, arch := range archs {
		if facts.CPUArch == arch {
			return
		}
	}
	t.Skipf("Test requires one of %v, running on %v", strings.Join(archs, ", "), facts.CPUArch)
}

// RequireBinaries skips t when any of the named binaries is missing from
// PATH.
func RequireBinaries(t *testing.T, binaries ...string) {
	t.Helper()
	for _, binary := range binaries {
		if _, err := exec.LookPath(binary); err != nil {
			t.Skipf("The %q binary was not found", binary)
		}
	}
}

// RequireAnyBinary skips t when none of the named binaries is on PATH.
func RequireAnyBinary(t *testing.T, binaries ...string) {
	t.Helper()
	if whichAny(binaries...) == "" {
		t.Skipf("None of the following binaries was found: %v", strings.Join(binaries, ", "))
	}
}

// whichAny returns the path of the first binary found on PATH, or "".
func whichAny(binaries ...string) string {
	for _, binary := range binaries {
		if path, err := exec.LookPath(binary); err == nil {
			return path
		}
	}
	return ""
}

// RequireLocalNetwork skips t when the daemon test ports cannot be bound
// on a local interface.
func RequireLocalNetwork(t *testing.T) {
	t.Helper()
	if !hasLocalNetwork(DefaultPublishPort, DefaultReturnPort) {
		t.Skip("No local network was detected")
	}
}

func hasLocalNetwork(ports ...int) bool {
	for _, network := range []string{"tcp4", "tcp6"} {
		if bindsAll(network, ports) {
			return true
		}
	}
	return false
}

func bindsAll(network string, ports []int) bool {
	for _, port := range ports {
		l, err := net.Listen(network, fmt.Sprintf(":%d", port))
		if err != nil {
			return false
		}
		l.Close()
	}
	return true
}

// Numeric addresses so the probe never stalls on DNS.
var internetProbes = []string{
	"1.1.1.1:53",
	"8.8.8.8:53",
	"9.9.9.9:53",
}

// RequireInternet skips t when no outside connection can be made.
func RequireInternet(t *testing.T) {
	t.Helper()
	if !hasInternet(250 * time.Millisecond) {
		t.Skip("No internet network connection was detected")
	}
}

func hasInternet(timeout time.Duration) bool {
	for _, addr := range internetProbes {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			continue
		}
		conn.Close()
		return true
	}
	return false
}

// RequireDocker skips t when no docker endpoint answers; the container
// backed fixtures cannot run without one.
func RequireDocker(t *testing.T) {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("Docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("Docker is not available: %v", err)
	}
}

var (
	modulesMu    sync.Mutex
	modulesCache = map[string][]string{}
)

// RequireModules skips t unless the agent binary reports every named
// module as loadable. The list is queried once per binary and cached.
func RequireModules(t *testing.T, agentPath string, modules ...string) {
	t.Helper()
	available, err := agentModules(agentPath)
	if err != nil {
		t.Skipf("Could not list agent modules: %v", err)
	}
	missing := missingFrom(available, modules)
	switch len(missing) {
	case 0:
	case 1:
		t.Skipf("Agent module %q is not available", missing[0])
	default:
		t.Skipf("Agent modules not available: %v", strings.Join(missing, ", "))
	}
}

func agentModules(agentPath string) ([]string, error) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	if modules, ok := modulesCache[agentPath]; ok {
		return modules, nil
	}
	out, err := exec.Command(agentPath, "modules", "--output=json").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %v modules: %w", agentPath, err)
	}
	result := gjson.GetBytes(out, "modules")
	if !result.Exists() {
		return nil, fmt.Errorf("no modules key in output of %v", agentPath)
	}
	modules := []string{}
	for _, m := range result.Array() {
		modules = append(modules, m.String())
	}
	modulesCache[agentPath] = modules
	return modules, nil
}

func missingFrom(available, wanted []string) []string {
	have := make(map[string]struct{}, len(available))
	for _, m := range available {
		have[m] = struct{}{}
	}
	missing := []string{}
	for _, m := range wanted {
		if _, ok := have[m]; !ok {
			missing = append(missing, m)
		}
	}
	return missing
}
