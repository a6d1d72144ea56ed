package platform

import "golang.org/x/sys/unix"

// FlockExclusive takes a non-blocking exclusive advisory lock on the
// whole file. The caller treats failure as fatal (another copy owns
// the device).
func FlockExclusive(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
}
