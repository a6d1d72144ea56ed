package fileclass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestClassifyDot(t *testing.T) {
	assert.Equal(t, Null, Classify("."))
}

func TestClassifyRegular(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Equal(t, Regular, Classify(path))
}

func TestClassifyMissing(t *testing.T) {
	assert.Equal(t, Error, Classify(filepath.Join(t.TempDir(), "nope")))
}

func TestClassifyFifo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	assert.Equal(t, Fifo, Classify(path))
}

func TestClassifyDevNull(t *testing.T) {
	if _, err := os.Stat("/dev/null"); err != nil {
		t.Skip("no /dev/null")
	}
	assert.Equal(t, Null, Classify("/dev/null"))
}

func TestHas(t *testing.T) {
	ty := Block | PassThrough
	assert.True(t, ty.Has(Block))
	assert.True(t, ty.Has(PassThrough))
	assert.False(t, ty.Has(Tape))
}

func TestString(t *testing.T) {
	assert.Equal(t, "regular file", Regular.String())
	assert.Equal(t, "pass-through [pt] device, block device",
		(Block | PassThrough).String())
	assert.Equal(t, "unknown", Type(0).String())
}
