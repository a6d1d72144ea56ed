//go:build !linux

package engine

import "golang.org/x/sys/unix"

// No fdatasync here; a full fsync is the closest equivalent.
func fdatasync(fd uintptr) error {
	return unix.Fsync(int(fd))
}
