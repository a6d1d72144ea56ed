package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreallocate(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "p"))
	require.NoError(t, err)
	defer f.Close()

	keptSize, err := Preallocate(f.Fd(), 0, 1<<16)
	require.NoError(t, err)

	st, err := f.Stat()
	require.NoError(t, err)
	if keptSize {
		assert.Zero(t, st.Size(), "keep-size prealloc must not grow the file")
	} else {
		assert.GreaterOrEqual(t, st.Size(), int64(1<<16))
	}
}

func TestFlockExclusive(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "l"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, FlockExclusive(f.Fd()))

	// A second handle on the same file cannot take the lock.
	f2, err := os.Open(f.Name())
	require.NoError(t, err)
	defer f2.Close()
	assert.Error(t, FlockExclusive(f2.Fd()))
}

func TestAdviseOnRegularFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "a"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, os.WriteFile(f.Name(), make([]byte, 4096), 0o644))

	assert.NoError(t, AdviseSequential(f.Fd()))
	assert.NoError(t, AdviseDontNeed(f.Fd(), 0, 4096))
}

func TestBlockDevCapacityOnRegularFileFails(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "b"))
	require.NoError(t, err)
	defer f.Close()

	_, _, err = BlockDevCapacity(f.Fd())
	assert.Error(t, err, "regular files have no block-device geometry")
}
