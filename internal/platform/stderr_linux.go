//go:build linux

package platform

import "golang.org/x/sys/unix"

// RedirectStderrToNull points fd 2 at /dev/null for verbose=-1 runs.
func RedirectStderrToNull() error {
	fd, err := unix.Open("/dev/null", unix.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Dup3(fd, 2, 0)
}
