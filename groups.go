package harness

import (
	"fmt"
	"hash/fnv"
	"io"
	"testing"

	"github.com/fatih/color"
)

// Group is one slice of a sharded test run. IDs are 1-based; every worker
// of the run uses the same Count.
type Group struct {
	ID    int
	Count int
}

// GroupFromEnv returns the group configured through HARNESS_TEST_GROUP and
// HARNESS_TEST_GROUP_COUNT. ok is false when either is unset, meaning the
// run is not sharded.
func GroupFromEnv() (Group, bool) {
	e := getEnv()
	if e.TestGroup == 0 || e.TestGroupCount == 0 {
		return Group{}, false
	}
	return Group{ID: e.TestGroup, Count: e.TestGroupCount}, true
}

// Partition returns the slice of items belonging to this group. Groups get
// equal shares; the last group also takes the remainder. Items must be
// ordered identically on every worker.
func (g Group) Partition(items []string) ([]string, error) {
	if g.Count < 1 {
		return nil, fmt.Errorf("invalid test group: group count (%v) < 1", g.Count)
	}
	total := len(items)
	size := total / g.Count
	start := size * (g.ID - 1)
	end := start + size
	if start < 0 {
		return nil, fmt.Errorf("invalid test group: start (%v) < 0", start)
	}
	if start >= total {
		return nil, fmt.Errorf("invalid test group: start (%v) >= total items (%v)", start, total)
	}
	if g.ID == g.Count && end < total {
		end = total
	}
	if end > total {
		end = total
	}
	return items[start:end], nil
}

// Contains reports whether name hashes into this group. Use it from inside
// a test binary, where the full ordered test list is not available.
func (g Group) Contains(name string) bool {
	if g.Count < 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()%uint32(g.Count) == uint32(g.ID-1)
}

// SkipUnlessInGroup skips t when sharding is configured and t does not
// hash into the configured group.
func SkipUnlessInGroup(t *testing.T) {
	t.Helper()
	g, ok := GroupFromEnv()
	if !ok {
		return
	}
	if !g.Contains(t.Name()) {
		t.Skipf("Test is not part of test group #%v", g.ID)
	}
}

// Announce writes the banner CI logs print before a sharded run.
func (g Group) Announce(w io.Writer, tests int) {
	banner := color.New(color.FgYellow)
	if getEnv().NoColors {
		banner.DisableColor()
	}
	banner.Fprintf(w, "Running test group #%d (%d tests)\n", g.ID, tests)
}
