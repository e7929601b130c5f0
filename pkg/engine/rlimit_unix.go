//go:build unix

package engine

import "golang.org/x/sys/unix"

// fdCeiling returns the soft RLIMIT_NOFILE, or 0 when it cannot be read.
func fdCeiling() uint64 {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}

	return rl.Cur
}
