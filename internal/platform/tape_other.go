//go:build !linux

package platform

import "errors"

var errNoTape = errors.New("tape control not supported on this platform")

func TapePosition(fd uintptr) (int64, error) { return 0, errNoTape }

func TapeCloseFilemark(fd uintptr, policy TapeClosePolicy) error {
	if policy == TapeDriverDefault {
		return nil
	}
	return errNoTape
}
