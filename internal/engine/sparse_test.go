package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroAzero builds the classic sparse test image: a run of zeros, one
// block of 'A', another run of zeros.
func zeroAzero() []byte {
	data := make([]byte, 4096+512+4096)
	for i := 4096; i < 4608; i++ {
		data[i] = 'A'
	}
	return data
}

func TestSparseCopyPerBlock(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", zeroAzero())
	dst := filepath.Join(dir, "dst")

	res, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=1", "oflag=sparse")
	require.NoError(t, res.Err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Len(t, got, 8704, "tail materialised by the terminal zero block")
	assert.True(t, bytes.Equal(zeroAzero(), got))
	// 16 zero blocks bypassed, one taken back for the terminal write.
	assert.Equal(t, int64(15), res.Stats.OutSparse)
}

func TestSparseIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", zeroAzero())
	dst := filepath.Join(dir, "dst")

	res, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=1", "oflag=sparse")
	require.NoError(t, res.Err)
	first, err := os.ReadFile(dst)
	require.NoError(t, err)

	res2, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=1", "oflag=sparse")
	require.NoError(t, res2.Err)
	second, err := os.ReadFile(dst)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second))
	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(9216), st.Size())
}

func TestSparseDoubleLeavesTailShort(t *testing.T) {
	// sparse given twice: the unwritten tail is left unmaterialised.
	dir := t.TempDir()
	src := writeFile(t, dir, "src", zeroAzero())
	dst := filepath.Join(dir, "dst")

	res, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=1",
		"oflag=sparse,sparse")
	require.NoError(t, res.Err)

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(4608), st.Size(), "length stops after the last data block")
	assert.Equal(t, int64(17), res.Stats.OutSparse)
}

func TestSparseStruncTruncatesToLength(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", zeroAzero())
	dst := filepath.Join(dir, "dst")

	// strunc extends the file to seek+blocks with a hole instead of
	// writing the terminal zero block.
	res, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=1", "oflag=strunc")
	require.NoError(t, res.Err)

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(8704), st.Size())

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(zeroAzero(), got))
}

func TestSparseAllZeroInput(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", make([]byte, 16*512))
	dst := filepath.Join(dir, "dst")

	res, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=4", "oflag=sparse")
	require.NoError(t, res.Err)

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(16*512), st.Size())
	assert.Equal(t, int64(15), res.Stats.OutSparse,
		"all bypassed except the terminal zero block")
	assert.Equal(t, int64(1), res.Stats.OutFull)
}

func TestFineGrainedSparseWritesOnlyDataChunks(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", zeroAzero())
	dst := filepath.Join(dir, "dst")

	// One transfer of 18 blocks, compared in single-block chunks.
	res, _ := runCopy(t, "if="+src, "of="+dst, "bs=512", "bpt=18,1", "oflag=sparse")
	require.NoError(t, res.Err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(zeroAzero(), got))
	assert.GreaterOrEqual(t, res.Stats.OutSparse, int64(15))
}
