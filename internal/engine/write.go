package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/yiyiyouwo/ddpt/internal/fileclass"
	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// cpWriteOf2 mirrors the transfer to the secondary output. Writes to a
// fifo are non-atomic, so keep going while progress is made.
func (j *Job) cpWriteOf2(cs *copyState) error {
	op := j.op
	numbytes := cs.ocbpt*op.OBS + cs.partialWriteBytes

	off := 0
	splintered := false
	for off < numbytes {
		res, err := j.writeRetryIntr(j.eps.Out2.Fd(), j.buf[off:numbytes])
		if err != nil {
			return fmt.Errorf("writing to of2, seek=%d: %v: %w", op.Seek, err, errOther)
		}
		if res <= 0 {
			break
		}
		if res < numbytes-off {
			splintered = true
		}
		off += res
		if !op.Out2Type.Has(fileclass.Fifo) {
			break
		}
	}
	if off < numbytes {
		fmt.Fprintf(errWriter, "write to of2 fifo problem: count=%d, off=%d\n",
			numbytes, off)
	} else if splintered {
		slog.Debug("write to of2 splintered")
	}
	cs.bytesOf2 = off
	return nil
}

// cpReadOfPT reads the destination span for sparing via pass-through.
func (j *Job) cpReadOfPT(cs *copyState) error {
	op := j.op
	want := int64(cs.ocbpt)
	got, err := j.ptReadRetry(j.eps.OutPt, j.buf2[:cs.ocbpt*op.OBSPi], op.Seek,
		want, j.outCmdOpts(), op.OFlags.Retries)
	if err != nil {
		return fmt.Errorf("pt_read(sparing) failed at or after lba=%d [0x%x]: %w",
			op.Seek, op.Seek, err)
	}
	if got != want {
		return errShortSparingRead
	}
	return nil
}

// errShortSparingRead makes a failed destination readback fall back to
// a plain write rather than aborting the copy.
var errShortSparingRead = errors.New("short sparing read")

// cpReadOfBlockReg reads the destination span for sparing from a block
// device or regular file.
func (j *Job) cpReadOfBlockReg(cs *copyState) error {
	op := j.op
	offset := op.Seek * int64(op.OBS)
	numbytes := cs.ocbpt * op.OBS

	if offset != cs.ofFilepos {
		slog.Debug("moving of filepos", "new_pos", offset)
		if _, err := unix.Seek(int(j.eps.Out.Fd()), offset, unix.SEEK_SET); err != nil {
			return fmt.Errorf("lseek on output, new_pos=%d: %v: %w",
				offset, err, pt.ErrFileError)
		}
		cs.ofFilepos = offset
	}
	if cs.partialWriteBytes > 0 {
		numbytes += cs.partialWriteBytes
		slog.Debug("sparing readback extended for partial", "extra", cs.partialWriteBytes)
	}
	res, err := j.readRetryIntr(j.eps.Out.Fd(), j.buf2[:numbytes])
	slog.Debug("read(sparing)", "requested_bytes", numbytes, "res", res)
	if err != nil {
		return fmt.Errorf("read(sparing), seek=%d: %v: %w", op.Seek, err, errOther)
	}
	if res == numbytes {
		cs.ofFilepos += int64(numbytes)
		return nil
	}
	return errShortSparingRead
}

// cpWritePT is the copy loop's output write via pass-through.
func (j *Job) cpWritePT(cs *copyState, seekDelta, blks int, buf []byte) error {
	op := j.op
	if op.OFlags.Nowrite {
		return nil
	}
	aseek := op.Seek + int64(seekDelta)
	if cs.partialWriteBytes > 0 {
		if op.OFlags.Pad {
			numbytes := blks*op.OBS + cs.partialWriteBytes
			cs.ocbpt++
			blks++
			full := blks * op.OBS
			if full > numbytes {
				zeroFill(buf[numbytes:full])
			}
			slog.Debug("pt_write: padding probable final write", "seek", aseek)
		} else {
			fmt.Fprintf(errWriter,
				">>> ignore partial write of %d bytes to pt (unless oflag=pad given)\n",
				cs.partialWriteBytes)
		}
	}
	err := j.ptWriteRetry(j.eps.OutPt, buf[:blks*op.OBSPi], aseek, int64(blks),
		j.outCmdOpts(), op.OFlags.Retries)
	if err != nil {
		return fmt.Errorf("pt_write failed, seek=%d: %w", aseek, err)
	}
	j.st.AddOutFull(int64(blks))
	return nil
}

// cpWriteTape writes one transfer to tape, honouring early-warning
// retries and the pad/nopad split. Short tape writes are fatal.
//
//nolint:gocyclo // the EOM early-warning protocol is inherently branchy
func (j *Job) cpWriteTape(cs *copyState, couldBeLast bool) error {
	op := j.op
	if op.OFlags.Nowrite {
		return nil
	}
	blks := cs.ocbpt
	numbytes := blks * op.OBS
	aseek := op.Seek
	partial := false

	if cs.partialWriteBytes > 0 {
		partial = true
		numbytes += cs.partialWriteBytes
		if op.OFlags.Nopad {
			j.st.AddOutPartial(1)
		} else {
			cs.ocbpt++
			blks++
			full := blks * op.OBS
			if full > numbytes {
				zeroFill(j.buf[numbytes:full])
			}
			numbytes = full
		}
	}

	gotEarlyWarning := false
	var res int
	var err error
	for {
		res, err = j.writeRetryIntr(j.eps.Out.Fd(), j.buf[:numbytes])
		if op.Verbose > 2 || (op.Verbose > 0 && couldBeLast) {
			slog.Debug("write(tape)", "partial", partial,
				"padded", partial && !op.OFlags.Nopad,
				"requested_bytes", numbytes, "res", res)
		}
		// The st driver signals end-of-medium early warning with
		// ENOSPC; a significant amount of tape may remain. Retry once
		// per write when the user asked to ignore it; writes alternate
		// ok, ENOSPC, ok until real EOM.
		if op.OFlags.IgnoreEW && err != nil && errors.Is(err, unix.ENOSPC) &&
			!gotEarlyWarning {
			gotEarlyWarning = true
			if !j.printedEWMessage {
				if op.Verbose > 1 {
					slog.Warn("EOM early warning, continuing...", "seek", aseek)
				}
				if op.Verbose == 2 {
					slog.Warn("(suppressing further early warning messages)")
					j.printedEWMessage = true
				}
			}
			continue
		}
		break
	}

	if err != nil {
		if isEIOLike(err) {
			return fmt.Errorf("writing tape, seek=%d: %v: %w", aseek, err, pt.ErrMediumHard)
		}
		return fmt.Errorf("writing tape, seek=%d: %v: %w", aseek, err, errOther)
	}
	if res < numbytes {
		cs.ofFilepos += int64(res)
		cs.bytesOf = res
		j.st.AddOutFull(int64(res / op.OBS))
		if res%op.OBS > 0 {
			j.st.AddOutPartial(1)
			j.st.AddOutFull(1)
		}
		return fmt.Errorf("write(tape): wrote less than requested, exit: %w", errOther)
	}
	cs.ofFilepos += int64(numbytes)
	cs.bytesOf = numbytes
	j.st.AddOutFull(int64(blks))
	return nil
}

// cpWriteBlockReg is the output write for block devices, fifos and
// regular files. seekDelta and blks address a sub-range of the
// transfer for the fine-grained compare path.
//
//nolint:gocyclo // pad/partial policy differs per output type
func (j *Job) cpWriteBlockReg(cs *copyState, seekDelta, blks int, buf []byte) error {
	op := j.op
	if op.OFlags.Nowrite {
		return nil
	}
	obs := op.OBSPi
	aseek := op.Seek + int64(seekDelta)
	offset := aseek * int64(obs)
	numbytes := blks * obs
	outType := op.OutType

	if cs.partialWriteBytes > 0 {
		if op.OFlags.Pad {
			numbytes += cs.partialWriteBytes
			cs.ocbpt++
			blks++
			full := blks * obs
			if full > numbytes {
				zeroFill(buf[numbytes:full])
			}
			numbytes = full
			slog.Debug("write(unix): padding probable final write", "seek", aseek)
		} else if outType.Has(fileclass.Block) {
			fmt.Fprintf(errWriter,
				">>> ignore partial write of %d bytes to block device\n",
				cs.partialWriteBytes)
		} else {
			numbytes += cs.partialWriteBytes
			j.st.AddOutPartial(1)
		}
	}
	// After a tape short read the output position is already right;
	// re-seeking would misplace the next partial record.
	if offset != cs.ofFilepos && !errors.Is(cs.leaveReason, errTapeShortRead) {
		slog.Debug("moving of filepos", "new_pos", offset)
		if _, err := unix.Seek(int(j.eps.Out.Fd()), offset, unix.SEEK_SET); err != nil {
			return fmt.Errorf("lseek on output, new_pos=%d: %v: %w",
				offset, err, pt.ErrFileError)
		}
		cs.ofFilepos = offset
	}

	// Writes to a fifo are non-atomic, so loop while progress is made.
	off := 0
	splintered := false
	var res int
	var err error
	for {
		res, err = j.writeRetryIntr(j.eps.Out.Fd(), buf[off:numbytes])
		if err != nil {
			break
		}
		if res > 0 && res < numbytes-off {
			splintered = true
		}
		if !outType.Has(fileclass.Fifo) || res <= 0 {
			break
		}
		off += res
		if off >= numbytes {
			break
		}
	}
	if off >= numbytes {
		res = numbytes
		if splintered {
			slog.Debug("write to output file splintered")
		}
	} else if off > 0 {
		fmt.Fprintf(errWriter, "write to of fifo problem: count=%d, off=%d, res=%d\n",
			numbytes, off, res)
	}
	if err != nil {
		if isEIOLike(err) {
			return fmt.Errorf("writing, seek=%d: %v: %w", aseek, err, pt.ErrMediumHard)
		}
		return fmt.Errorf("writing, seek=%d: %v: %w", aseek, err, errOther)
	}
	if res < numbytes {
		fmt.Fprintf(errWriter, "output file probably full, seek=%d\n", aseek)
		cs.ofFilepos += int64(res)
		cs.bytesOf = res
		j.st.AddOutFull(int64(res / obs))
		// A partial record can come from a short write.
		if res%obs > 0 {
			j.st.AddOutPartial(1)
			j.st.AddOutFull(1)
		}
		return fmt.Errorf("short write: %w", errOther)
	}
	cs.ofFilepos += int64(numbytes)
	cs.bytesOf = numbytes
	j.st.AddOutFull(int64(blks))
	return nil
}
