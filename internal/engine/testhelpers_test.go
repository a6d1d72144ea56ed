package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yiyiyouwo/ddpt/internal/capacity"
	"github.com/yiyiyouwo/ddpt/internal/opener"
	"github.com/yiyiyouwo/ddpt/internal/options"
	"github.com/yiyiyouwo/ddpt/internal/pt"
	"github.com/yiyiyouwo/ddpt/internal/signals"
	"github.com/yiyiyouwo/ddpt/internal/stats"
)

// runCopy drives the whole pipeline the way the CLI does: parse,
// open, size, prepare, run.
func runCopy(t *testing.T, args ...string) (Result, *options.Options) {
	t.Helper()
	op := options.New()
	require.NoError(t, options.ParseOperands(op, args))
	eps, err := opener.Open(op)
	require.NoError(t, err)
	t.Cleanup(eps.Close)

	done, err := capacity.CountCalculate(op, eps)
	require.NoError(t, err)
	if done {
		return Result{}, op
	}
	j := New(op, eps, stats.New(op.DoTime), &signals.Broker{})
	require.NoError(t, j.Prepare())
	return j.Run(), op
}

// trimRange records one WRITE SAME (16) span.
type trimRange struct {
	lba    int64
	blocks int64
}

// memDevice is an in-memory pass-through device for loop tests.
type memDevice struct {
	data      []byte
	blockSize int

	badLBAs   map[int64]bool // reads covering one of these fail
	uaPending int            // unit attentions to post before commands succeed

	trims      []trimRange
	writes     int
	syncCalls  int
	lastWrote  []byte
	writeErr   error
}

func newMemDevice(blocks int64, blockSize int) *memDevice {
	return &memDevice{
		data:      make([]byte, blocks*int64(blockSize)),
		blockSize: blockSize,
		badLBAs:   map[int64]bool{},
	}
}

func (d *memDevice) blocks() int64 { return int64(len(d.data)) / int64(d.blockSize) }

func (d *memDevice) ReadCapacity() (pt.Capacity, error) {
	return pt.Capacity{Blocks: d.blocks(), BlockSize: d.blockSize}, nil
}

func (d *memDevice) Read(buf []byte, lba, blocks int64, opts pt.CmdOpts) (int64, error) {
	if d.uaPending > 0 {
		d.uaPending--
		return 0, pt.ErrUnitAttention
	}
	end := lba + blocks
	if end > d.blocks() {
		end = d.blocks()
	}
	for b := lba; b < end; b++ {
		if d.badLBAs[b] {
			good := b - lba
			copy(buf, d.data[lba*int64(d.blockSize):b*int64(d.blockSize)])
			return good, pt.ErrMediumHard
		}
	}
	got := end - lba
	copy(buf, d.data[lba*int64(d.blockSize):end*int64(d.blockSize)])
	return got, nil
}

func (d *memDevice) Write(buf []byte, lba, blocks int64, opts pt.CmdOpts) error {
	if d.uaPending > 0 {
		d.uaPending--
		return pt.ErrUnitAttention
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	n := blocks * int64(d.blockSize)
	copy(d.data[lba*int64(d.blockSize):], buf[:n])
	d.writes++
	d.lastWrote = append([]byte(nil), buf[:n]...)
	return nil
}

func (d *memDevice) WriteSame16(block []byte, blockSize int, lba, blocks int64) error {
	d.trims = append(d.trims, trimRange{lba: lba, blocks: blocks})
	for b := lba; b < lba+blocks; b++ {
		copy(d.data[b*int64(d.blockSize):(b+1)*int64(d.blockSize)], block[:blockSize])
	}
	return nil
}

func (d *memDevice) SyncCache() error {
	d.syncCalls++
	return nil
}

func (d *memDevice) Close() error { return nil }
