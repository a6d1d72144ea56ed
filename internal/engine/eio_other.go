//go:build !linux

package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isEIOLike groups the errnos that suggest a medium error; EREMOTEIO
// is Linux-only.
func isEIOLike(err error) bool {
	return errors.Is(err, unix.EIO)
}
