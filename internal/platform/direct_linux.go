//go:build linux

package platform

import "golang.org/x/sys/unix"

// ODirect is the open(2) bit for unbuffered I/O, zero where absent.
const ODirect = unix.O_DIRECT
