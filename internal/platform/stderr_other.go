//go:build !linux

package platform

import "golang.org/x/sys/unix"

func RedirectStderrToNull() error {
	fd, err := unix.Open("/dev/null", unix.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Dup2(fd, 2)
}
