// Package capacity reconciles device capacities, file sizes and the
// user's skip/seek/count into the final block count of the copy.
package capacity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/yiyiyouwo/ddpt/internal/fileclass"
	"github.com/yiyiyouwo/ddpt/internal/opener"
	"github.com/yiyiyouwo/ddpt/internal/options"
	"github.com/yiyiyouwo/ddpt/internal/platform"
	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// fder is satisfied by pass-through devices that expose their raw fd,
// letting the block-device cross-check reuse the same handle.
type fder interface{ Fd() uintptr }

// CountCalculate resolves op.DDCount, applying the resume policy.
// done=true means the copy should be skipped entirely (e.g. resume
// found nothing left to do).
func CountCalculate(op *options.Options, eps *opener.Endpoints) (done bool, err error) {
	inSect, err := calcCountIn(op, eps)
	if err != nil {
		return false, err
	}
	outSect, err := calcCountOut(op, eps)
	if err != nil {
		return false, err
	}
	if !op.OFlags.Resume && op.DDCount > 0 {
		return false, nil
	}
	slog.Debug("count calculation", "in_sectors", inSect, "out_sectors", outSect)

	if op.Skip > 0 && op.InType == fileclass.Regular && op.Skip > inSect {
		op.DDCount = 0
		return false, fmt.Errorf("cannot skip to specified offset on %s: %w",
			op.InFile, pt.ErrFileError)
	}

	validResume := false
	if op.OFlags.Resume {
		switch {
		case op.OutType != fileclass.Regular:
			slog.Warn("resume expects OFILE to be regular, ignore")
		case outSect < 0:
			slog.Warn("resume cannot determine size of OFILE, ignore")
		default:
			validResume = true
		}
	}

	if op.DDCount < 0 && !validResume {
		// Scale the endpoint sizes back by skip and seek, then take
		// the smaller side measured in bytes.
		if op.Skip > 0 && inSect > op.Skip {
			inSect -= op.Skip
		}
		if op.Seek > 0 && outSect > op.Seek {
			outSect -= op.Seek
		}
		switch {
		case outSect < 0 && inSect > 0:
			op.DDCount = inSect
		case op.ReadingFifo && outSect < 0:
			// continual read; the loop runs until EOF
		case outSect < 0 && inSect <= 0:
		default:
			ibytes := int64(0)
			if inSect > 0 {
				ibytes = int64(op.IBS) * inSect
			}
			obytes := int64(op.OBS) * outSect
			switch {
			case ibytes == 0:
				op.DDCount = obytes / int64(op.IBS)
			case ibytes > obytes && op.OutType != fileclass.Regular:
				op.DDCount = obytes / int64(op.IBS)
			default:
				op.DDCount = inSect
			}
		}
	}

	if validResume {
		if op.DDCount < 0 {
			op.DDCount = inSect - op.Skip
		}
		if outSect <= op.Seek {
			slog.Warn("resume finds no previous copy, restarting")
		} else {
			obytes := int64(op.OBS) * (outSect - op.Seek)
			ibk := obytes / int64(op.IBS)
			if ibk >= op.DDCount {
				fmt.Fprintln(os.Stderr, "resume finds copy complete, exiting")
				op.DDCount = 0
				return true, nil
			}
			// Trust only whole transfer units of previous output.
			ibk = ibk / int64(op.BptI) * int64(op.BptI)
			op.Skip += ibk
			op.Seek += ibk * int64(op.IBS) / int64(op.OBS)
			op.DDCount -= ibk
			fmt.Fprintf(os.Stderr, "resume adjusting skip=%d, seek=%d, and count=%d\n",
				op.Skip, op.Seek, op.DDCount)
		}
	}
	return false, nil
}

// readCapacityRetry issues READ CAPACITY, retrying once when the
// device posts a unit attention or aborts the command.
func readCapacityRetry(dev pt.Device, path string) (pt.Capacity, error) {
	c, err := dev.ReadCapacity()
	switch {
	case errors.Is(err, pt.ErrUnitAttention):
		slog.Warn("unit attention (readcap), continuing", "path", path)
		c, err = dev.ReadCapacity()
	case errors.Is(err, pt.ErrAborted):
		slog.Warn("aborted command (readcap), continuing", "path", path)
		c, err = dev.ReadCapacity()
	}
	return c, err
}

//nolint:gocyclo // mirrors the input-sizing decision tree covers every endpoint type
func calcCountIn(op *options.Options, eps *opener.Endpoints) (int64, error) {
	inSect := int64(-1)
	switch {
	case op.InType.Has(fileclass.PassThrough):
		if op.IFlags.Norcap {
			if op.InType.Has(fileclass.Block) && !op.IFlags.Force {
				return -1, fmt.Errorf(
					"norcap on input block device accessed via pt is risky, use iflag=force to override: %w",
					pt.ErrFileError)
			}
			return -1, nil
		}
		c, err := readCapacityRetry(eps.InPt, op.InFile)
		if err != nil {
			if errors.Is(err, pt.ErrInvalidOp) || errors.Is(err, pt.ErrIllegalReq) {
				return -1, fmt.Errorf("read capacity not supported on %s: %w",
					op.InFile, err)
			}
			if errors.Is(err, pt.ErrNotReady) {
				return -1, fmt.Errorf("read capacity failed on %s - not ready: %w",
					op.InFile, err)
			}
			return -1, fmt.Errorf("unable to read capacity on %s: %w", op.InFile, err)
		}
		inSect = c.Blocks
		op.RdProtTyp = c.ProtType
		op.RdPIExp = c.PIExp
		slog.Debug("pt capacity", "path", op.InFile, "blocks", c.Blocks,
			"block_size", c.BlockSize)
		if inSect > 0 && c.BlockSize != op.IBS {
			slog.Warn("input block size confusion", "path", op.InFile,
				"ibs", op.IBS, "device_claims", c.BlockSize)
			if !op.IFlags.Force {
				return -1, fmt.Errorf(
					"block size mismatch on %s, use iflag=force to override: %w",
					op.InFile, pt.ErrFileError)
			}
		}
		if op.InType.Has(fileclass.Block) && !op.IFlags.Force {
			if f, ok := eps.InPt.(fder); ok {
				if bSect, bSz, err := platform.BlockDevCapacity(f.Fd()); err == nil {
					if inSect*int64(c.BlockSize) != bSect*int64(bSz) {
						return -1, fmt.Errorf(
							"size of input block device differs from pt size; pass-through on a partition gives unexpected offsets, use iflag=force to override: %w",
							pt.ErrFileError)
					}
				}
			}
		}
	case op.DDCount > 0 && !op.OFlags.Resume:
		return -1, nil
	case op.InType.Has(fileclass.Block):
		bSect, bSz, err := platform.BlockDevCapacity(eps.In.Fd())
		if err != nil {
			slog.Warn("unable to read block capacity", "path", op.InFile, "error", err)
			return -1, nil
		}
		inSect = bSect
		slog.Debug("blk capacity", "path", op.InFile, "blocks", bSect, "block_size", bSz)
		if inSect > 0 && op.IBS != bSz {
			slog.Warn("input block size confusion", "path", op.InFile,
				"ibs", op.IBS, "device_claims", bSz)
			inSect = -1
		}
	case op.InType.Has(fileclass.Regular):
		st, err := eps.In.Stat()
		if err != nil {
			slog.Warn("fstat on input failed", "error", err)
			return -1, nil
		}
		inSect = st.Size() / int64(op.IBS)
		if res := st.Size() % int64(op.IBS); res != 0 {
			inSect++ // the tail counts as one partial block
		}
	}
	return inSect, nil
}

//nolint:gocyclo // mirrors the output-sizing decision tree covers every endpoint type
func calcCountOut(op *options.Options, eps *opener.Endpoints) (int64, error) {
	outSect := int64(-1)
	if op.OutType.Has(fileclass.PassThrough) {
		if op.OFlags.Norcap {
			if op.OutType.Has(fileclass.Block) && !op.OFlags.Force {
				return -1, fmt.Errorf(
					"norcap on output block device accessed via pt is risky, use oflag=force to override: %w",
					pt.ErrFileError)
			}
			return -1, nil
		}
		c, err := readCapacityRetry(eps.OutPt, op.OutFile)
		if err != nil {
			if errors.Is(err, pt.ErrInvalidOp) || errors.Is(err, pt.ErrIllegalReq) {
				return -1, fmt.Errorf("read capacity not supported on %s: %w",
					op.OutFile, err)
			}
			return -1, fmt.Errorf("unable to read capacity on %s: %w", op.OutFile, err)
		}
		outSect = c.Blocks
		op.WrProtTyp = c.ProtType
		op.WrPIExp = c.PIExp
		slog.Debug("pt capacity", "path", op.OutFile, "blocks", c.Blocks,
			"block_size", c.BlockSize)
		if outSect > 0 && c.BlockSize != op.OBS {
			slog.Warn("output block size confusion", "path", op.OutFile,
				"obs", op.OBS, "device_claims", c.BlockSize)
			if !op.OFlags.Force {
				return -1, fmt.Errorf(
					"block size mismatch on %s, use oflag=force to override: %w",
					op.OutFile, pt.ErrFileError)
			}
		}
		if op.OutType.Has(fileclass.Block) && !op.OFlags.Force {
			if f, ok := eps.OutPt.(fder); ok {
				if bSect, bSz, err := platform.BlockDevCapacity(f.Fd()); err == nil {
					if outSect*int64(c.BlockSize) != bSect*int64(bSz) {
						return -1, fmt.Errorf(
							"size of output block device differs from pt size, use oflag=force to override: %w",
							pt.ErrFileError)
					}
				}
			}
		}
		return outSect, nil
	}
	if op.DDCount > 0 && !op.OFlags.Resume {
		return -1, nil
	}
	switch {
	case op.OutType.Has(fileclass.Block):
		bSect, bSz, err := platform.BlockDevCapacity(eps.Out.Fd())
		if err != nil {
			slog.Warn("unable to read block capacity", "path", op.OutFile, "error", err)
			return -1, nil
		}
		outSect = bSect
		slog.Debug("blk capacity", "path", op.OutFile, "blocks", bSect, "block_size", bSz)
		if outSect > 0 && op.OBS != bSz {
			slog.Warn("output block size confusion", "path", op.OutFile,
				"obs", op.OBS, "device_claims", bSz)
			outSect = -1
		}
	case op.OutType.Has(fileclass.Regular):
		st, err := eps.Out.Stat()
		if err != nil {
			slog.Warn("fstat on output failed", "error", err)
			return -1, nil
		}
		outSect = st.Size() / int64(op.OBS)
		if res := st.Size() % int64(op.OBS); res != 0 {
			outSect++
		}
	}
	return outSect, nil
}
