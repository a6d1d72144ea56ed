//go:build !linux

package platform

import "errors"

// ErrNoCapacityOracle marks platforms without a block-device size
// ioctl wired up; the count calculator treats the size as unknown.
var ErrNoCapacityOracle = errors.New("block device capacity query not supported on this platform")

func BlockDevCapacity(fd uintptr) (int64, int, error) {
	return 0, 0, ErrNoCapacityOracle
}
