package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Tracker defers teardown of shared fixtures until the last test using them
// is done. Tests register against a fixture name up front and release when
// they finish; Finalize only tears the fixture down once the dependent set
// is empty, and never more than once.
type Tracker struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]*trackedFixture
}

type trackedFixture struct {
	fixture    Fixture
	dependents map[string]struct{}
	finished   bool
}

type TrackerOpt func(*Tracker)

func NewTracker(opts ...TrackerOpt) *Tracker {
	t := &Tracker{entries: map[string]*trackedFixture{}}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger()
	}
	return t
}

func TrackerLogger(logger *zap.Logger) TrackerOpt {
	return func(t *Tracker) {
		t.log = logger
	}
}

// Track makes fixture available for reference counting under name.
// Tracking a name twice keeps the first fixture.
func (t *Tracker) Track(name string, fixture Fixture) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[name]; ok {
		return
	}
	t.entries[name] = &trackedFixture{
		fixture:    fixture,
		dependents: map[string]struct{}{},
	}
}

// Register records that testID uses the named fixture. Registering the same
// test twice is a no-op.
func (t *Tracker) Register(name, testID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	if !ok {
		return fmt.Errorf("cannot register %q: fixture %q is not tracked", testID, name)
	}
	if entry.finished {
		return fmt.Errorf("cannot register %q: fixture %q was already torn down", testID, name)
	}
	entry.dependents[testID] = struct{}{}
	return nil
}

// Release drops testID from the named fixture's dependent set. Unknown
// fixtures and already-released tests are no-ops.
func (t *Tracker) Release(name, testID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[name]; ok {
		delete(entry.dependents, testID)
	}
}

// Finalize tears the named fixture down once nothing depends on it anymore.
// While dependents remain it does nothing. The teardown runs at most once:
// its error goes to the caller that triggered it, and later calls return
// nil rather than retrying a failed teardown.
func (t *Tracker) Finalize(ctx context.Context, name string) error {
	t.mu.Lock()
	entry, ok := t.entries[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("fixture %q is not tracked", name)
	}
	if entry.finished {
		t.mu.Unlock()
		return nil
	}
	if len(entry.dependents) > 0 {
		remaining := dependentNames(entry)
		t.mu.Unlock()
		t.log.Debug("fixture still in use, not terminating it",
			zap.String("fixture", name), zap.Strings("tests", remaining))
		return nil
	}
	entry.finished = true
	t.mu.Unlock()

	t.log.Debug("finalizing fixture",
		zap.String("fixture", name), zap.String("type", entry.fixture.Type()))
	return entry.fixture.TearDown(ctx)
}

// ReleaseAndFinalize is the per-test teardown hook: it releases testID and
// finalizes the fixture if that test was the last dependent.
func (t *Tracker) ReleaseAndFinalize(ctx context.Context, name, testID string) error {
	t.Release(name, testID)
	return t.Finalize(ctx, name)
}

// FinalizeAll finalizes every tracked fixture in reverse order of names.
// The first teardown error is returned after all fixtures were attempted.
func (t *Tracker) FinalizeAll(ctx context.Context) error {
	names := t.Names()
	var firstErr error
	for i := len(names) - 1; i >= 0; i-- {
		if err := t.Finalize(ctx, names[i]); err != nil {
			t.log.Warn("failed to finalize fixture",
				zap.String("fixture", names[i]), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Names returns every tracked fixture name, sorted.
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dependents returns the tests currently registered against name, sorted.
func (t *Tracker) Dependents(name string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	if !ok {
		return nil
	}
	return dependentNames(entry)
}

// Finished reports whether the named fixture's teardown has been triggered.
func (t *Tracker) Finished(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	return ok && entry.finished
}

func dependentNames(entry *trackedFixture) []string {
	names := make([]string, 0, len(entry.dependents))
	for id := range entry.dependents {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
