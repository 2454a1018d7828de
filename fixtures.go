package harness

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// wg tracks background cleanup started by fixtures, like container purges.
// Fixtures.TearDown waits on it before returning.
var wg sync.WaitGroup

type FixturesOpt func(*Fixtures)

// NewFixtures returns an empty collection. Fixtures are set up as they are
// added and torn down in reverse order.
func NewFixtures(opts ...FixturesOpt) *Fixtures {
	f := &Fixtures{}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger()
	}
	return f
}

func FixturesLogger(logger *zap.Logger) FixturesOpt {
	return func(f *Fixtures) {
		f.log = logger
	}
}

type Fixtures struct {
	log   *zap.Logger
	store map[string]Fixture
	order []string
}

// Add registers fixtures under generated names and sets them up in the
// order given.
func (f *Fixtures) Add(ctx context.Context, fixtures ...Fixture) error {
	for _, fix := range fixtures {
		if err := f.AddByName(ctx, GetRandomName(0), fix); err != nil {
			return err
		}
	}
	return nil
}

// AddByName registers fixture under name and sets it up immediately.
func (f *Fixtures) AddByName(ctx context.Context, name string, fixture Fixture) error {
	if f.store == nil {
		f.order = []string{}
		f.store = map[string]Fixture{}
	}
	f.order = append(f.order, name)
	f.store[name] = fixture
	if err := fixture.SetUp(ctx); err != nil {
		return fmt.Errorf("failed to setup fixture '%v': %w", name, err)
	}
	f.log.Debug("setup", zap.String("type", fixtureType(fixture)), zap.String("name", name))
	return nil
}

// Get returns the fixture registered under name, or nil.
func (f *Fixtures) Get(name string) Fixture {
	return f.store[name]
}

// Names returns the registered fixture names in setup order.
func (f *Fixtures) Names() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)
	return names
}

// SetUp runs SetUp on every registered fixture in setup order. Fixtures
// added through Add or AddByName are already set up; use this only with
// collections built some other way.
func (f *Fixtures) SetUp(ctx context.Context) error {
	for _, name := range f.order {
		fixture := f.store[name]
		if err := fixture.SetUp(ctx); err != nil {
			return fmt.Errorf("failed to setup fixture '%v': %w", name, err)
		}
		f.log.Debug("setup", zap.String("type", fixtureType(fixture)), zap.String("name", name))
	}
	return nil
}

// TearDown tears every fixture down in reverse setup order. All fixtures
// are attempted even when one fails; the first error is returned after
// background cleanup finishes.
func (f *Fixtures) TearDown(ctx context.Context) error {
	var firstErr error
	for i := len(f.order) - 1; i >= 0; i-- {
		name := f.order[i]
		fixture := f.store[name]
		if err := fixture.TearDown(ctx); err != nil {
			f.log.Warn("failed to teardown fixture", zap.String("fixture", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.log.Debug("teardown", zap.String("type", fixtureType(fixture)), zap.String("name", name))
	}

	wg.Wait()
	return firstErr
}

// RecoverTearDown is a deferrable that tears everything down when the test
// goroutine panics, then re-panics.
func (f *Fixtures) RecoverTearDown(ctx context.Context) {
	if r := recover(); r != nil {
		if err := f.TearDown(ctx); err != nil {
			f.log.Warn("failed to tear down", zap.Error(err))
		}
		panic(r)
	}
}

// Tracker returns a reference tracker with every registered fixture already
// tracked under its registered name.
func (f *Fixtures) Tracker() *Tracker {
	t := NewTracker(TrackerLogger(f.log))
	for _, name := range f.order {
		t.Track(name, f.store[name])
	}
	return t
}

// Docker returns the first Docker fixture. If none exists, panic.
func (f *Fixtures) Docker() *Docker {
	for _, x := range f.store {
		if val, ok := x.(*Docker); ok {
			return val
		}
	}
	panic("no docker fixture found")
}

// ReturnDB returns the first ReturnDB fixture. If none exists, panic.
func (f *Fixtures) ReturnDB() *ReturnDB {
	for _, x := range f.store {
		if val, ok := x.(*ReturnDB); ok {
			return val
		}
	}
	panic("no return database fixture found")
}

// Server returns the first Server fixture. If none exists, panic.
func (f *Fixtures) Server() *Server {
	for _, x := range f.store {
		if val, ok := x.(*Server); ok {
			return val
		}
	}
	panic("no server fixture found")
}

// Agent returns the first Agent fixture. If none exists, panic.
func (f *Fixtures) Agent() *Agent {
	for _, x := range f.store {
		if val, ok := x.(*Agent); ok {
			return val
		}
	}
	panic("no agent fixture found")
}
