//go:build linux

package engine

import "golang.org/x/sys/unix"

func fdatasync(fd uintptr) error {
	return unix.Fdatasync(int(fd))
}
