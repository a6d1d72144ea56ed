//go:build linux

package signals

import (
	"os"
	"syscall"
)

// Linux has no SIGINFO; SIGUSR1 is the conventional stand-in.
var infoSignals = []os.Signal{syscall.SIGUSR1}
