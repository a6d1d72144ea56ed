//go:build !linux

package platform

import "golang.org/x/sys/unix"

// Preallocate reserves space by extending the file, the
// posix_fallocate way. This changes the apparent size, which defeats
// oflag=resume; only the Linux keep-size path preserves it.
func Preallocate(fd uintptr, off, length int64) (keptSize bool, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return false, err
	}
	if st.Size >= off+length {
		return false, nil
	}
	return false, unix.Ftruncate(int(fd), off+length)
}
