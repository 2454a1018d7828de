package harness

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateString(t *testing.T) {
	s := GenerateString()
	assert.Len(t, s, 10)
	for _, c := range s {
		assert.Contains(t, nameChars, string(c))
	}
	assert.NotEqual(t, s, GenerateString())
}

func TestRetry(t *testing.T) {
	attempts := 0
	err := Retry(5*time.Second, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("boom")
	err := Retry(200*time.Millisecond, func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestFindPath(t *testing.T) {
	path := FindPath("testdata")
	require.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, "testdata"))

	assert.Empty(t, FindPath("no-such-directory-anywhere"))
}

func TestGetRandomName(t *testing.T) {
	name := GetRandomName(0)
	assert.NotEmpty(t, name)
	assert.NotEqual(t, name, GetRandomName(0))
}

func TestTimer(t *testing.T) {
	timer := newTimer()
	time.Sleep(10 * time.Millisecond)
	elapsed := timer.Elapsed()
	assert.Greater(t, elapsed, time.Duration(0))

	stopped := timer.Stop()
	assert.Equal(t, stopped, timer.Stop())
	assert.GreaterOrEqual(t, timer.Duration(), elapsed)
	assert.Equal(t, timer.Duration(), timer.Elapsed())
}
