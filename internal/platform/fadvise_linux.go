//go:build linux

package platform

import "golang.org/x/sys/unix"

// AdviseSequential hints that the file will be read sequentially,
// raising readahead. Errors are advisory and returned for logging
// only.
func AdviseSequential(fd uintptr) error {
	return unix.Fadvise(int(fd), 0, 0, unix.FADV_SEQUENTIAL)
}

// AdviseDontNeed tells the kernel the byte range just moved will not
// be reused, so its pages can be dropped from the cache.
func AdviseDontNeed(fd uintptr, off, length int64) error {
	return unix.Fadvise(int(fd), off, length, unix.FADV_DONTNEED)
}
