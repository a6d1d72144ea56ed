// Package fileclass maps a path onto the set of endpoint types the
// copy engine dispatches on.
package fileclass

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Type is a bitset of endpoint categories. A node can carry more than
// one bit, e.g. a block device forced onto the pass-through path is
// Block|PassThrough.
type Type int

const (
	Regular Type = 1 << iota
	Block
	Char
	Fifo
	PassThrough
	Tape
	Null
	Other
	Error
)

// Linux device majors from Documentation/admin-guide/devices.txt.
const (
	memMajor         = 1
	devNullMinor     = 3
	scsiGenericMajor = 21
	scsiTapeMajor    = 9
)

// The bsg character major is allocated dynamically, so it has to be
// looked up in /proc/devices once.
var bsgMajor = sync.OnceValue(func() uint32 {
	f, err := os.Open("/proc/devices")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	inChar := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Character") {
			inChar = true
			continue
		}
		if strings.HasPrefix(line, "Block") {
			inChar = false
			continue
		}
		if !inChar {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "bsg" {
			var n uint32
			for _, c := range fields[0] {
				if c < '0' || c > '9' {
					return 0
				}
				n = n*10 + uint32(c-'0')
			}
			return n
		}
	}
	return 0
})

// Classify stats path and returns its type bits. A single dot is the
// null sink; a path that cannot be stat'ed is Error.
func Classify(path string) Type {
	if path == "." {
		return Null
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Error
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		return Regular
	case unix.S_IFBLK:
		return Block
	case unix.S_IFIFO:
		return Fifo
	case unix.S_IFCHR:
		major := unix.Major(uint64(st.Rdev)) //nolint:unconvert // Rdev width differs per OS
		minor := unix.Minor(uint64(st.Rdev))
		switch {
		case major == memMajor && minor == devNullMinor:
			return Null
		case major == scsiGenericMajor:
			return PassThrough
		case major == scsiTapeMajor:
			return Tape
		case major == bsgMajor() && major != 0:
			return PassThrough
		default:
			return Char // something like /dev/zero
		}
	default:
		return Other
	}
}

func (t Type) Has(bits Type) bool { return t&bits != 0 }

func (t Type) String() string {
	var parts []string
	add := func(bit Type, name string) {
		if t&bit != 0 {
			parts = append(parts, name)
		}
	}
	add(Null, "null device")
	add(PassThrough, "pass-through [pt] device")
	add(Tape, "SCSI tape device")
	add(Block, "block device")
	add(Fifo, "fifo [stdin, stdout, named pipe]")
	add(Regular, "regular file")
	add(Char, "char device")
	add(Other, "other file type")
	add(Error, "unable to stat")
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}
