//go:build linux

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BlockDevCapacity returns the sector count and logical sector size of
// an open block device.
func BlockDevCapacity(fd uintptr) (sectors int64, sectorSize int, err error) {
	var ssz uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.BLKSSZGET,
		uintptr(unsafe.Pointer(&ssz))); errno != 0 {
		return 0, 0, fmt.Errorf("BLKSSZGET: %w", errno)
	}
	var bytes uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.BLKGETSIZE64,
		uintptr(unsafe.Pointer(&bytes))); errno != 0 {
		return 0, 0, fmt.Errorf("BLKGETSIZE64: %w", errno)
	}
	if ssz == 0 {
		return 0, 0, fmt.Errorf("device reports zero sector size")
	}
	return int64(bytes) / int64(ssz), int(ssz), nil
}
