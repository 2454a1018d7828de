//go:build unix

package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseFileLimitsNoop(t *testing.T) {
	soft, hard, err := RaiseFileLimits(0, 0)
	require.NoError(t, err)
	assert.Greater(t, soft, uint64(0))
	assert.GreaterOrEqual(t, hard, soft)
}

func TestRaiseFileLimitsIdempotent(t *testing.T) {
	soft, hard, err := RaiseFileLimits(0, 0)
	require.NoError(t, err)

	again, hardAgain, err := RaiseFileLimits(soft, hard)
	require.NoError(t, err)
	assert.Equal(t, soft, again)
	assert.Equal(t, hard, hardAgain)
}
