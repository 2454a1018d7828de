//go:build !unix

package harness

// RaiseFileLimits is a no-op on platforms without rlimits.
func RaiseFileLimits(minSoft, minHard uint64) (uint64, uint64, error) {
	return minSoft, minHard, nil
}
