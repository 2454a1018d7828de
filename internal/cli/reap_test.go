package cli

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	harness "github.com/basaltproject/go-harness"
)

func plainColors(t *testing.T) {
	t.Helper()
	previous := color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		color.NoColor = previous
	})
}

func TestResultLabels(t *testing.T) {
	plainColors(t)
	report := harness.ReapReport{
		Terminated: []int32{100},
		Killed:     []int32{200},
		Survivors:  []int32{300},
	}
	labels := resultLabels(report)
	assert.Equal(t, "✔ terminated", labels[100])
	assert.Equal(t, "✔ killed", labels[200])
	assert.Equal(t, "✘ survived", labels[300])
}

func TestRender(t *testing.T) {
	plainColors(t)
	rows := []procRow{
		{pid: 100, name: "basalt-agent", age: "5m0s"},
		{pid: 200, name: "sleep", age: "12s"},
	}
	labels := map[int32]string{100: "terminated", 200: "survived"}

	out := &bytes.Buffer{}
	render(out, rows, labels)

	assert.Contains(t, out.String(), "PID")
	assert.Contains(t, out.String(), "basalt-agent")
	assert.Contains(t, out.String(), "100")
	assert.Contains(t, out.String(), "terminated")
	assert.Contains(t, out.String(), "survived")
}

func TestReapCommandNoStrays(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"--dry-run", "--run-id", uuid.NewString()})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "No stray processes found.")
}
