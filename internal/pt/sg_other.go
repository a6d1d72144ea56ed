//go:build !linux

package pt

// Open fails on platforms without an SG_IO equivalent. The copy engine
// still handles every non-pt file type there.
func Open(path string, o OpenOpts) (Device, error) {
	return nil, ErrNotSupported
}
