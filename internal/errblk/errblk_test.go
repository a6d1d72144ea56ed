package errblk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errblk.txt")
	l, err := Open(path)
	require.NoError(t, err)

	l.Put(0x10)
	l.PutRange(0x20, 1)
	l.PutRange(0x30, 4)
	l.PutRange(0x40, 0) // ignored
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# start: ")
	assert.Contains(t, out, "0x10\n")
	assert.Contains(t, out, "0x20\n")
	assert.Contains(t, out, "0x30-0x33\n")
	assert.NotContains(t, out, "0x40")
	assert.Contains(t, out, "# stop: ")
}

func TestLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errblk.txt")
	l, err := Open(path)
	require.NoError(t, err)
	l.Put(1)
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	l2.Put(2)
	require.NoError(t, l2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0x1\n")
	assert.Contains(t, string(data), "0x2\n")
}

func TestNilLogIsNoop(t *testing.T) {
	var l *Log
	l.Put(1)
	l.PutRange(1, 5)
	assert.NoError(t, l.Close())
}
