//go:build unix

package harness

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseFileLimits lifts RLIMIT_NOFILE to at least the given minimums and
// returns the resulting soft and hard limits. Limits already above the
// minimums stay as they are. Server fixtures call this before starting;
// a daemon plus its transport sockets burns through a default 1024 fast.
func RaiseFileLimits(minSoft, minHard uint64) (uint64, uint64, error) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, 0, fmt.Errorf("failed to read open file limits: %w", err)
	}
	soft, hard := limit.Cur, limit.Max
	raise := false
	if soft < minSoft {
		soft = minSoft
		raise = true
	}
	if hard < minHard {
		hard = minHard
		raise = true
	}
	if !raise {
		return soft, hard, nil
	}
	if soft > hard {
		soft = hard
	}
	limit.Cur, limit.Max = soft, hard
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return soft, hard, fmt.Errorf("failed to raise open file limits to %v/%v: %w", soft, hard, err)
	}
	return soft, hard, nil
}
