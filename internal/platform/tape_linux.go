//go:build linux

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// st(4) magnetic tape ioctls, from <sys/mtio.h>.
const (
	mtioctop = 0x40086d01 // _IOW('m', 1, struct mtop)
	mtiocpos = 0x80086d03 // _IOR('m', 3, struct mtpos)

	mtWeof  = 5  // write count filemarks, flushing
	mtBsr   = 4  // backward space count records
	mtWeofi = 35 // write count filemarks in immediate mode
)

type mtop struct {
	op    int16
	_     int16 // padding to align count
	count int32
}

type mtpos struct {
	blkno int64 // long in the kernel struct
}

func tapeOp(fd uintptr, op int16, count int32) error {
	cmd := mtop{op: op, count: count}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, mtioctop,
		uintptr(unsafe.Pointer(&cmd)))
	if errno != 0 {
		return errno
	}
	return nil
}

// TapePosition returns the current tape block number.
func TapePosition(fd uintptr) (int64, error) {
	var pos mtpos
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, mtiocpos,
		uintptr(unsafe.Pointer(&pos)))
	if errno != 0 {
		return 0, errno
	}
	return int64(pos.blkno), nil
}

// TapeCloseFilemark applies the close-time filemark policy. The st
// driver writes a filemark and flushes on close by default; these
// ioctls pre-empt that per the nofm/fsync matrix.
func TapeCloseFilemark(fd uintptr, policy TapeClosePolicy) error {
	switch policy {
	case TapeWeofImmediate:
		return tapeOp(fd, mtWeofi, 1)
	case TapeWeofNone:
		if err := tapeOp(fd, mtWeofi, 0); err != nil {
			// Old kernels lack MTWEOFI; a zero-record backspace also
			// suppresses the close-time filemark.
			return tapeOp(fd, mtBsr, 0)
		}
		return nil
	case TapeWeofSync:
		return tapeOp(fd, mtWeof, 0)
	default:
		return nil
	}
}
