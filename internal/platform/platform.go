// Package platform wraps the build-tagged syscalls the copy engine
// needs: block-device capacity, pre-allocation, page-cache advice,
// advisory locks, and tape filemark control.
package platform

// TapeClosePolicy selects how the filemark is handled when a tape
// output is closed after writing.
type TapeClosePolicy int

const (
	// TapeWeofImmediate writes one filemark in immediate mode so close
	// does not force a buffer flush.
	TapeWeofImmediate TapeClosePolicy = iota
	// TapeWeofNone suppresses the filemark (nofm without fsync): an
	// immediate zero-count filemark, falling back to a zero-record
	// backspace.
	TapeWeofNone
	// TapeWeofSync flushes without writing a filemark (nofm with
	// fsync): a zero-count, non-immediate filemark write.
	TapeWeofSync
	// TapeDriverDefault leaves it to the tape driver's close handling.
	TapeDriverDefault
)
