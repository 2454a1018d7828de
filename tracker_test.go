package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type CountingFixture struct {
	BaseFixture
	setups    int
	teardowns int
	fail      error
}

func (f *CountingFixture) SetUp(ctx context.Context) error {
	f.setups++
	return nil
}

func (f *CountingFixture) TearDown(ctx context.Context) error {
	f.teardowns++
	return f.fail
}

func TestTrackerDefersTeardownUntilLastRelease(t *testing.T) {
	ctx := context.Background()
	fixture := &CountingFixture{}
	tracker := NewTracker()
	tracker.Track("returndb", fixture)

	require.NoError(t, tracker.Register("returndb", "TestAgentPing"))
	require.NoError(t, tracker.Register("returndb", "TestPolicyApply"))
	assert.Equal(t, []string{"TestAgentPing", "TestPolicyApply"}, tracker.Dependents("returndb"))

	tracker.Release("returndb", "TestAgentPing")
	require.NoError(t, tracker.Finalize(ctx, "returndb"))
	assert.Equal(t, 0, fixture.teardowns)
	assert.False(t, tracker.Finished("returndb"))

	tracker.Release("returndb", "TestPolicyApply")
	require.NoError(t, tracker.Finalize(ctx, "returndb"))
	assert.Equal(t, 1, fixture.teardowns)
	assert.True(t, tracker.Finished("returndb"))
}

func TestTrackerFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := &CountingFixture{}
	tracker := NewTracker()
	tracker.Track("server", fixture)

	require.NoError(t, tracker.Finalize(ctx, "server"))
	require.NoError(t, tracker.Finalize(ctx, "server"))
	assert.Equal(t, 1, fixture.teardowns)
}

func TestTrackerTeardownErrorPropagatesOnce(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("container refused to die")
	fixture := &CountingFixture{fail: boom}
	tracker := NewTracker()
	tracker.Track("docker", fixture)

	err := tracker.Finalize(ctx, "docker")
	require.ErrorIs(t, err, boom)
	assert.True(t, tracker.Finished("docker"))

	// A failed teardown is not retried.
	require.NoError(t, tracker.Finalize(ctx, "docker"))
	assert.Equal(t, 1, fixture.teardowns)
}

func TestTrackerRegisterIsIdempotent(t *testing.T) {
	tracker := NewTracker()
	tracker.Track("trees", &CountingFixture{})

	require.NoError(t, tracker.Register("trees", "TestDataRender"))
	require.NoError(t, tracker.Register("trees", "TestDataRender"))
	assert.Equal(t, []string{"TestDataRender"}, tracker.Dependents("trees"))
}

func TestTrackerReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := &CountingFixture{}
	tracker := NewTracker()
	tracker.Track("trees", fixture)

	require.NoError(t, tracker.Register("trees", "TestDataRender"))
	tracker.Release("trees", "TestDataRender")
	tracker.Release("trees", "TestDataRender")
	tracker.Release("trees", "TestNeverRegistered")
	tracker.Release("unknown", "TestDataRender")

	require.NoError(t, tracker.Finalize(ctx, "trees"))
	assert.Equal(t, 1, fixture.teardowns)
}

func TestTrackerRegisterUnknownFixture(t *testing.T) {
	tracker := NewTracker()
	err := tracker.Register("ghost", "TestAgentPing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not tracked")
}

func TestTrackerRegisterAfterFinalize(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker()
	tracker.Track("server", &CountingFixture{})
	require.NoError(t, tracker.Finalize(ctx, "server"))

	err := tracker.Register("server", "TestLateArrival")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already torn down")
}

func TestTrackerFinalizeUnknownFixture(t *testing.T) {
	tracker := NewTracker()
	err := tracker.Finalize(context.Background(), "ghost")
	require.Error(t, err)
}

func TestTrackerTrackTwiceKeepsFirst(t *testing.T) {
	ctx := context.Background()
	first := &CountingFixture{}
	second := &CountingFixture{}
	tracker := NewTracker()
	tracker.Track("server", first)
	tracker.Track("server", second)

	require.NoError(t, tracker.Finalize(ctx, "server"))
	assert.Equal(t, 1, first.teardowns)
	assert.Equal(t, 0, second.teardowns)
}

func TestTrackerReleaseAndFinalize(t *testing.T) {
	ctx := context.Background()
	fixture := &CountingFixture{}
	tracker := NewTracker()
	tracker.Track("returndb", fixture)
	require.NoError(t, tracker.Register("returndb", "TestAgentPing"))
	require.NoError(t, tracker.Register("returndb", "TestPolicyApply"))

	require.NoError(t, tracker.ReleaseAndFinalize(ctx, "returndb", "TestAgentPing"))
	assert.Equal(t, 0, fixture.teardowns)
	require.NoError(t, tracker.ReleaseAndFinalize(ctx, "returndb", "TestPolicyApply"))
	assert.Equal(t, 1, fixture.teardowns)
}

func TestTrackerFinalizeAll(t *testing.T) {
	ctx := context.Background()
	held := &CountingFixture{}
	free := &CountingFixture{}
	failing := &CountingFixture{fail: errors.New("stuck")}
	tracker := NewTracker()
	tracker.Track("held", held)
	tracker.Track("free", free)
	tracker.Track("failing", failing)
	require.NoError(t, tracker.Register("held", "TestStillRunning"))

	err := tracker.FinalizeAll(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, held.teardowns)
	assert.Equal(t, 1, free.teardowns)
	assert.Equal(t, 1, failing.teardowns)
}

func TestFixturesTracker(t *testing.T) {
	ctx := context.Background()
	fixture := &CountingFixture{}
	fixtures := NewFixtures()
	require.NoError(t, fixtures.AddByName(ctx, "counting", fixture))

	tracker := fixtures.Tracker()
	require.NoError(t, tracker.Register("counting", "TestOne"))
	require.NoError(t, tracker.Finalize(ctx, "counting"))
	assert.Equal(t, 0, fixture.teardowns)

	tracker.Release("counting", "TestOne")
	require.NoError(t, tracker.Finalize(ctx, "counting"))
	assert.Equal(t, 1, fixture.teardowns)
}
