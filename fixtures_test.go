package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type DummyFixture struct {
	BaseFixture
	Member int
}

func (f *DummyFixture) SetUp(ctx context.Context) error {
	f.Member = 123
	return nil
}

func (f *DummyFixture) TearDown(ctx context.Context) error {
	f.Member = 0
	return nil
}

type recordingFixture struct {
	BaseFixture
	name string
	log  *[]string
	fail error
}

func (f *recordingFixture) SetUp(ctx context.Context) error {
	return nil
}

func (f *recordingFixture) TearDown(ctx context.Context) error {
	*f.log = append(*f.log, f.name)
	return f.fail
}

func TestFixtureType(t *testing.T) {
	f := DummyFixture{}
	assert.Equal(t, "harness.BaseFixture", f.Type())
	assert.Equal(t, "harness.DummyFixture", fixtureType(&f))
}

func TestFixtures(t *testing.T) {
	ctx := context.Background()
	fixtures := NewFixtures()
	df := DummyFixture{}
	df2 := DummyFixture{}

	err := fixtures.Add(ctx, &df)
	assert.Nil(t, err)
	assert.Equal(t, 123, df.Member)

	err = fixtures.AddByName(ctx, "foobar", &df2)
	assert.Nil(t, err)

	f := fixtures.Get("foobar").(*DummyFixture)
	assert.Equal(t, 123, f.Member)

	names := fixtures.Names()
	require.Len(t, names, 2)
	assert.Equal(t, "foobar", names[1])

	err = fixtures.TearDown(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 0, f.Member)
}

func TestFixturesGetMissing(t *testing.T) {
	fixtures := NewFixtures()
	assert.Nil(t, fixtures.Get("missing"))
}

func TestFixturesTearDownOrder(t *testing.T) {
	ctx := context.Background()
	order := []string{}
	fixtures := NewFixtures()
	for _, name := range []string{"a", "b", "c"} {
		err := fixtures.AddByName(ctx, name, &recordingFixture{name: name, log: &order})
		require.NoError(t, err)
	}

	require.NoError(t, fixtures.TearDown(ctx))
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestFixturesTearDownCollectsFirstError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	order := []string{}
	fixtures := NewFixtures()
	require.NoError(t, fixtures.AddByName(ctx, "a", &recordingFixture{name: "a", log: &order}))
	require.NoError(t, fixtures.AddByName(ctx, "b", &recordingFixture{name: "b", log: &order, fail: boom}))
	require.NoError(t, fixtures.AddByName(ctx, "c", &recordingFixture{name: "c", log: &order}))

	err := fixtures.TearDown(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestRecoverTearDown(t *testing.T) {
	ctx := context.Background()
	fixtures := NewFixtures()
	df := &DummyFixture{}
	require.NoError(t, fixtures.AddByName(ctx, "dummy", df))

	assert.Panics(t, func() {
		defer fixtures.RecoverTearDown(ctx)
		panic("boom")
	})
	assert.Equal(t, 0, df.Member)
}

func TestFixturesTypedGetters(t *testing.T) {
	fixtures := NewFixtures()
	assert.Panics(t, func() { fixtures.Docker() })
	assert.Panics(t, func() { fixtures.ReturnDB() })
	assert.Panics(t, func() { fixtures.Server() })
	assert.Panics(t, func() { fixtures.Agent() })
}
