package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// errOther is the catch-all I/O failure; it maps to the generic
// category exit code.
var errOther = errors.New("I/O error")

// errWriter lets tests capture the user-facing stderr lines.
var errWriter io.Writer = os.Stderr

func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func isMediumHard(err error) bool {
	if errors.Is(err, pt.ErrMediumHard) {
		return true
	}
	var ce codeError
	return errors.As(err, &ce) && int(ce) == pt.CodeMediumHard
}

func isProtection(err error) bool {
	if errors.Is(err, pt.ErrProtection) || errors.Is(err, pt.ErrProtectionInfo) {
		return true
	}
	var ce codeError
	return errors.As(err, &ce) &&
		(int(ce) == pt.CodeProtection || int(ce) == pt.CodeProtectionInfo)
}

// codeError carries a held exit code (a non-fatal read error reported
// at termination) through the error return.
type codeError int

func (e codeError) Error() string { return fmt.Sprintf("held error, exit code %d", int(e)) }

// ExitCode surfaces the code to the CLI layer.
func (e codeError) ExitCode() int { return int(e) }

func exitCodeError(code int) error { return codeError(code) }

// readRetryIntr reads, retrying EINTR transparently and counting each
// interrupted retry.
func (j *Job) readRetryIntr(fd uintptr, buf []byte) (int, error) {
	for {
		n, err := unix.Read(int(fd), buf)
		if err == unix.EINTR {
			j.st.AddInterruptedRetry()
			continue
		}
		return n, err
	}
}

// writeRetryIntr writes, retrying EINTR transparently and counting
// each interrupted retry.
func (j *Job) writeRetryIntr(fd uintptr, buf []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), buf)
		if err == unix.EINTR {
			j.st.AddInterruptedRetry()
			continue
		}
		return n, err
	}
}
