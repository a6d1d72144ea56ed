package engine

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/yiyiyouwo/ddpt/internal/fileclass"
)

// doCopy is the main copy loop: plan, read, mirror, compare, write,
// advance.
//
//nolint:gocyclo // the loop body is the heart of the tool
func (j *Job) doCopy() error {
	op := j.op
	cs := &copyState{}

	continualRead := op.ReadingFifo && op.DDCount < 0
	if continualRead {
		slog.Debug("reading fifo continually")
	} else {
		slog.Debug("starting copy", "count", op.DDCount)
	}
	if op.DDCount <= 0 && !op.ReadingFifo {
		return nil
	}
	ibpt := op.BptI
	obpt := j.obpt

	for op.DDCount > 0 || continualRead {
		cs.bytesRead = 0
		cs.bytesOf = 0
		cs.bytesOf2 = 0
		sparingSkip := false
		sparseSkip := false

		// Plan this iteration's blocks. If the plan's input bytes do
		// not align to an output block, zero the buffer so the unused
		// tail contributes no ghost data.
		if op.DDCount >= int64(ibpt) || continualRead {
			cs.icbpt = ibpt
			cs.ocbpt = obpt
		} else {
			cs.icbpt = int(op.DDCount)
			n := int(op.DDCount) * op.IBS
			cs.ocbpt = n / op.OBS
			if n%op.OBS != 0 {
				cs.ocbpt++
				zeroFill(j.buf[:op.IBS*ibpt])
			}
		}

		// Reading section.
		j.brk.Drain()
		var err error
		switch {
		case op.InType.Has(fileclass.PassThrough):
			err = j.cpReadPT(cs)
		case op.InType.Has(fileclass.Fifo):
			err = j.cpReadFifo(cs)
		case op.InType.Has(fileclass.Tape):
			err = j.cpReadTape(cs)
		default:
			err = j.cpReadBlockReg(cs)
		}
		if err != nil {
			return err
		}
		if cs.icbpt == 0 {
			break // nothing read so leave loop
		}

		if j.eps.Out2 != nil {
			if err := j.cpWriteOf2(cs); err != nil {
				return err
			}
		}

		if op.OFlags.Sparse > 0 {
			n := cs.ocbpt*op.OBS + cs.partialWriteBytes
			if bytes.Equal(j.buf[:n], j.zeros[:n]) {
				sparseSkip = true
				if op.OFlags.Wsame16 && op.OutType.Has(fileclass.PassThrough) {
					j.writeSame16(op.Seek, cs.ocbpt)
				}
			} else if op.Obpc > 0 {
				if err := j.finerCompWr(cs, j.buf, j.zeros); err != nil {
					return err
				}
				goto bypassWrite
			}
		}
		if op.OFlags.Sparing && !sparseSkip {
			// In write sparing the destination is read first.
			if op.OutType.Has(fileclass.PassThrough) {
				err = j.cpReadOfPT(cs)
			} else {
				err = j.cpReadOfBlockReg(cs)
			}
			if err != nil {
				return err
			}
			n := cs.ocbpt*op.OBS + cs.partialWriteBytes
			if bytes.Equal(j.buf[:n], j.buf2[:n]) {
				sparingSkip = true
			} else if op.Obpc > 0 {
				if err := j.finerCompWr(cs, j.buf, j.buf2); err != nil {
					return err
				}
				goto bypassWrite
			}
		}

		// Writing section.
		j.brk.Drain()
		if sparingSkip || sparseSkip {
			j.st.AddOutSparse(int64(cs.ocbpt))
			if cs.partialWriteBytes > 0 {
				j.st.AddOutSparsePartial(1)
			}
		} else {
			couldBeLast := !continualRead && int64(cs.icbpt) >= op.DDCount
			switch {
			case op.OutType.Has(fileclass.PassThrough):
				err = j.cpWritePT(cs, 0, cs.ocbpt, j.buf)
			case op.OutType.Has(fileclass.Null):
				// don't bump out_full
			case op.OutType.Has(fileclass.Tape):
				err = j.cpWriteTape(cs, couldBeLast)
			default:
				err = j.cpWriteBlockReg(cs, 0, cs.ocbpt, j.buf)
			}
			if err != nil {
				return err
			}
		}

	bypassWrite:
		j.fadviseAfter(cs)
		if op.DDCount > 0 {
			op.DDCount -= int64(cs.icbpt)
		}
		op.Skip += int64(cs.icbpt)
		op.Seek += int64(cs.ocbpt)
		if cs.leaveAfterWrite {
			if errors.Is(cs.leaveReason, errTapeShortRead) {
				// Allow multiple partial writes for tape.
				cs.partialWriteBytes = 0
				cs.leaveAfterWrite = false
				cs.leaveReason = nil
			} else {
				// Other cases: stop the copy after the partial write.
				return cs.leaveReason
			}
		}
	}

	if op.OutType.Has(fileclass.Regular) && !op.OFlags.Nowrite &&
		op.OFlags.Sparse > 0 {
		j.sparseCleanup(cs)
	}
	return nil
}
