package harness

import (
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const nameChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateString returns a short random identifier, good enough for
// database, container, and fixture names.
func GenerateString() string {
	result := make([]byte, 10)
	for i := range result {
		result[i] = nameChars[rand.Intn(len(nameChars))]
	}
	return string(result)
}

// Retry runs op with exponential backoff until it succeeds or d elapses.
func Retry(d time.Duration, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = d
	return backoff.Retry(op, bo)
}

// FindPath resolves dir against the working directory, walking upward
// through parents, so helpers can run from any package subdirectory.
// Returns "" when no parent contains dir.
func FindPath(dir string) string {
	if filepath.IsAbs(dir) {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		return ""
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(cwd, dir)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

func getTestDataPath(name string) string {
	return filepath.Join("testdata", name)
}
