package capacity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yiyiyouwo/ddpt/internal/fileclass"
	"github.com/yiyiyouwo/ddpt/internal/opener"
	"github.com/yiyiyouwo/ddpt/internal/options"
	"github.com/yiyiyouwo/ddpt/internal/pt"
)

func regFile(t *testing.T, name string, size int) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExplicitCountKept(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"count=10", "bs=512"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Null

	eps := &opener.Endpoints{In: regFile(t, "src", 100*512)}
	done, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(10), op.DDCount)
}

func TestDeriveFromInputSize(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"bs=512"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Null

	eps := &opener.Endpoints{In: regFile(t, "src", 100*512)}
	done, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(100), op.DDCount)
}

func TestDeriveRoundsUpPartialTail(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"bs=512"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Null

	eps := &opener.Endpoints{In: regFile(t, "src", 100*512+10)}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Equal(t, int64(101), op.DDCount)
}

func TestDeriveScalesBackBySkip(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"bs=512", "skip=40"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Null

	eps := &opener.Endpoints{In: regFile(t, "src", 100*512)}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Equal(t, int64(60), op.DDCount)
}

func TestSkipBeyondInputFails(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"bs=512", "skip=200"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Null

	eps := &opener.Endpoints{In: regFile(t, "src", 100*512)}
	_, err := CountCalculate(op, eps)
	assert.ErrorIs(t, err, pt.ErrFileError)
	assert.Zero(t, op.DDCount)
}

func TestPtCapacityUsed(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"if=dev", "bs=512"}))
	op.InType = fileclass.PassThrough
	op.OutType = fileclass.Null

	dev := &fakeDevice{capacity: pt.Capacity{Blocks: 5000, BlockSize: 512}}
	eps := &opener.Endpoints{InPt: dev}
	done, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(5000), op.DDCount)
}

func TestPtCapacityRetriesUnitAttention(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"if=dev", "bs=512"}))
	op.InType = fileclass.PassThrough
	op.OutType = fileclass.Null

	dev := &fakeDevice{
		capacity: pt.Capacity{Blocks: 64, BlockSize: 512},
		capErrs:  []error{pt.ErrUnitAttention},
	}
	eps := &opener.Endpoints{InPt: dev}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.capCalls)
	assert.Equal(t, int64(64), op.DDCount)
}

func TestPtBlockSizeMismatchNeedsForce(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"if=dev", "bs=512"}))
	op.InType = fileclass.PassThrough
	op.OutType = fileclass.Null

	dev := &fakeDevice{capacity: pt.Capacity{Blocks: 64, BlockSize: 4096}}
	eps := &opener.Endpoints{InPt: dev}
	_, err := CountCalculate(op, eps)
	assert.ErrorIs(t, err, pt.ErrFileError)

	op.IFlags.Force = true
	op.DDCount = -1
	_, err = CountCalculate(op, eps)
	assert.NoError(t, err)
}

func TestPtProtectionFieldsRecorded(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"if=dev", "bs=512"}))
	op.InType = fileclass.PassThrough
	op.OutType = fileclass.Null

	dev := &fakeDevice{capacity: pt.Capacity{
		Blocks: 64, BlockSize: 512, ProtType: 2, PIExp: 1,
	}}
	eps := &opener.Endpoints{InPt: dev}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Equal(t, 2, op.RdProtTyp)
	assert.Equal(t, 1, op.RdPIExp)
}

func TestOutputBoundsRegularCopyLargerInput(t *testing.T) {
	// A non-regular output smaller than the input bounds the count.
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"if=dev", "of=out", "bs=512"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.PassThrough

	out := &fakeDevice{capacity: pt.Capacity{Blocks: 50, BlockSize: 512}}
	eps := &opener.Endpoints{In: regFile(t, "src", 100*512), OutPt: out}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Equal(t, int64(50), op.DDCount)
}

func TestRegularOutputDoesNotBound(t *testing.T) {
	// A regular OFILE can grow, so the input size wins.
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{"if=a", "of=b", "bs=512"}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Regular

	in := regFile(t, "src", 100*512)
	out := regFile(t, "dst", 10*512)
	eps := &opener.Endpoints{In: in, Out: out}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Equal(t, int64(100), op.DDCount)
}

func TestResumeAdjustsByWholeTransfers(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{
		"if=a", "of=b", "bs=512", "count=100", "bpt=16", "oflag=resume",
	}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Regular

	in := regFile(t, "src", 100*512)
	out := regFile(t, "dst", 40*512) // 40 blocks already written
	eps := &opener.Endpoints{In: in, Out: out}
	done, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.False(t, done)
	// 40 rounded down to a bpt=16 multiple is 32.
	assert.Equal(t, int64(32), op.Skip)
	assert.Equal(t, int64(32), op.Seek)
	assert.Equal(t, int64(68), op.DDCount)
}

func TestResumeComplete(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{
		"if=a", "of=b", "bs=512", "count=100", "oflag=resume",
	}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Regular

	in := regFile(t, "src", 100*512)
	out := regFile(t, "dst", 100*512)
	eps := &opener.Endpoints{In: in, Out: out}
	done, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, op.DDCount)
}

func TestResumeOnEmptyOutputRestarts(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{
		"if=a", "of=b", "bs=512", "oflag=resume",
	}))
	op.InType = fileclass.Regular
	op.OutType = fileclass.Regular

	in := regFile(t, "src", 100*512)
	out := regFile(t, "dst", 0)
	eps := &opener.Endpoints{In: in, Out: out}
	done, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(100), op.DDCount)
	assert.Zero(t, op.Skip)
}

func TestNorcapSkipsSizing(t *testing.T) {
	op := options.New()
	require.NoError(t, options.ParseOperands(op, []string{
		"if=dev", "bs=512", "count=10", "iflag=norcap",
	}))
	op.InType = fileclass.PassThrough
	op.OutType = fileclass.Null

	dev := &fakeDevice{capacity: pt.Capacity{Blocks: 5000, BlockSize: 512}}
	eps := &opener.Endpoints{InPt: dev}
	_, err := CountCalculate(op, eps)
	require.NoError(t, err)
	assert.Zero(t, dev.capCalls)
	assert.Equal(t, int64(10), op.DDCount)
}
