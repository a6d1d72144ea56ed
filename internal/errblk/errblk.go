// Package errblk appends unreadable block addresses to a plain-text
// log so a later pass can retry or map around them.
package errblk

import (
	"fmt"
	"os"
	"time"
)

// DefaultPath is where iflag=errblk writes its log.
const DefaultPath = "errblk.txt"

// Log is an append-only record of bad LBAs. A nil *Log is a valid
// no-op writer so callers don't have to guard every Put.
type Log struct {
	f *os.File
}

// Open opens (or creates) the log in append mode and stamps a start
// line.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fmt.Fprintf(f, "# start: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	return &Log{f: f}, nil
}

// Put records a single bad block.
func (l *Log) Put(lba int64) {
	if l == nil || l.f == nil {
		return
	}
	fmt.Fprintf(l.f, "0x%x\n", lba)
}

// PutRange records a run of consecutive bad blocks.
func (l *Log) PutRange(lba, num int64) {
	if l == nil || l.f == nil || num <= 0 {
		return
	}
	if num == 1 {
		l.Put(lba)
		return
	}
	fmt.Fprintf(l.f, "0x%x-0x%x\n", lba, lba+num-1)
}

// Close stamps a stop line and closes the file.
func (l *Log) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	fmt.Fprintf(l.f, "# stop: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	err := l.f.Close()
	l.f = nil
	return err
}
