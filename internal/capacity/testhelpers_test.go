package capacity

import (
	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// fakeDevice is a programmable pass-through stand-in for sizing tests.
type fakeDevice struct {
	capacity pt.Capacity
	capErrs  []error // popped per ReadCapacity call; nil entry = success
	capCalls int
}

func (d *fakeDevice) ReadCapacity() (pt.Capacity, error) {
	d.capCalls++
	if len(d.capErrs) > 0 {
		err := d.capErrs[0]
		d.capErrs = d.capErrs[1:]
		if err != nil {
			return pt.Capacity{}, err
		}
	}
	return d.capacity, nil
}

func (d *fakeDevice) Read(buf []byte, lba, blocks int64, opts pt.CmdOpts) (int64, error) {
	return 0, pt.ErrInvalidOp
}

func (d *fakeDevice) Write(buf []byte, lba, blocks int64, opts pt.CmdOpts) error {
	return pt.ErrInvalidOp
}

func (d *fakeDevice) WriteSame16(block []byte, blockSize int, lba, blocks int64) error {
	return pt.ErrInvalidOp
}

func (d *fakeDevice) SyncCache() error { return nil }
func (d *fakeDevice) Close() error     { return nil }
