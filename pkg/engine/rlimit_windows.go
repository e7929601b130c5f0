//go:build windows

package engine

// fdCeiling returns a conservative handle budget; Windows has no
// RLIMIT_NOFILE equivalent for sockets.
func fdCeiling() uint64 {
	return 16384
}
