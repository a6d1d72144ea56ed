//go:build linux

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Preallocate reserves space for the copy. The keep-size form is tried
// first so the apparent file length stays put and oflag=resume keeps
// working; kernels or filesystems that reject the flag get a plain
// fallocate, which grows the file.
//
// keptSize reports whether the keep-size form succeeded.
func Preallocate(fd uintptr, off, length int64) (keptSize bool, err error) {
	err = unix.Fallocate(int(fd), unix.FALLOC_FL_KEEP_SIZE, off, length)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP) {
		return false, unix.Fallocate(int(fd), 0, off, length)
	}
	return false, err
}
