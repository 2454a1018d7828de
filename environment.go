package harness

import (
	"log"

	"github.com/vrischmann/envconfig"
)

// Environment carries the HARNESS_* switches that steer a test run. Every
// field is optional so a plain `go test` works without any setup.
type Environment struct {
	// Debug switches the logger to development output.
	Debug bool `envconfig:"default=false"`
	// RunDestructive enables tests that modify the host they run on.
	RunDestructive bool `envconfig:"default=false"`
	// RunExpensive enables tests that cost real time or money.
	RunExpensive bool `envconfig:"default=false"`
	// TestGroup and TestGroupCount shard the run across CI workers.
	// Both must be set for sharding to apply; groups are 1-based.
	TestGroup      int `envconfig:"default=0"`
	TestGroupCount int `envconfig:"default=0"`
	// NoColors disables terminal colors in banners and CLI output.
	NoColors bool `envconfig:"default=false"`
	// OutputColumns is the terminal width assumed for banners.
	OutputColumns int `envconfig:"default=80"`
}

var env *Environment

func init() {
	var err error
	if env, err = parseEnvironment(); err != nil {
		log.Fatal(err)
	}
}

func parseEnvironment() (*Environment, error) {
	e := &Environment{}
	if err := envconfig.InitWithPrefix(e, "HARNESS"); err != nil {
		return nil, err
	}
	return e, nil
}

func getEnv() *Environment {
	return env
}
