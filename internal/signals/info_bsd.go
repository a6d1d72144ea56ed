//go:build darwin || freebsd || netbsd || openbsd

package signals

import (
	"os"

	"golang.org/x/sys/unix"
)

var infoSignals = []os.Signal{unix.SIGINFO, unix.SIGUSR1}
