package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// ptCmdOpts builds the per-command options for one side.
func ptCmdOpts(f ptFlags, protect int) pt.CmdOpts {
	return pt.CmdOpts{
		CdbSize: f.CdbSize,
		DPO:     f.DPO,
		FUA:     f.FUA,
		FUANV:   f.FUANV,
		RARC:    f.RARC,
		Protect: protect,
	}
}

// ptFlags is the subset of a flag vector a pass-through command needs.
type ptFlags struct {
	CdbSize int
	DPO     bool
	FUA     bool
	FUANV   bool
	RARC    bool
}

func (j *Job) inCmdOpts() pt.CmdOpts {
	f := j.op.IFlags
	return ptCmdOpts(ptFlags{f.CdbSize, f.DPO, f.FUA, f.FUANV, f.RARC}, j.op.RdProtect)
}

func (j *Job) outCmdOpts() pt.CmdOpts {
	f := j.op.OFlags
	return ptCmdOpts(ptFlags{f.CdbSize, f.DPO, f.FUA, f.FUANV, false}, j.op.WrProtect)
}

// ptReadRetry issues a pass-through read, retrying unit attentions and
// aborted commands within the retry budget.
func (j *Job) ptReadRetry(dev pt.Device, buf []byte, lba, blocks int64,
	opts pt.CmdOpts, budget int) (int64, error) {
	for {
		got, err := dev.Read(buf, lba, blocks, opts)
		if err != nil && budget > 0 &&
			(errors.Is(err, pt.ErrUnitAttention) || errors.Is(err, pt.ErrAborted)) {
			budget--
			j.st.AddRetries(1)
			continue
		}
		return got, err
	}
}

func (j *Job) ptWriteRetry(dev pt.Device, buf []byte, lba, blocks int64,
	opts pt.CmdOpts, budget int) error {
	for {
		err := dev.Write(buf, lba, blocks, opts)
		if err != nil && budget > 0 &&
			(errors.Is(err, pt.ErrUnitAttention) || errors.Is(err, pt.ErrAborted)) {
			budget--
			j.st.AddRetries(1)
			continue
		}
		return err
	}
}

// cpReadPT is the copy loop's input read via pass-through.
func (j *Job) cpReadPT(cs *copyState) error {
	op := j.op
	want := int64(cs.icbpt)
	buf := j.buf[:cs.icbpt*op.IBSPi]
	got, err := j.ptReadRetry(j.eps.InPt, buf, op.Skip, want, j.inCmdOpts(),
		op.IFlags.Retries)
	if err != nil {
		if got == 0 {
			return fmt.Errorf("pt_read failed at or after lba=%d [0x%x]: %w",
				op.Skip, op.Skip, err)
		}
		// Limp on if there is data; stop after the write and hold the
		// error number for the exit status.
		op.ErrToReport = pt.Code(err)
	}
	if got < want {
		slog.Debug("short pt read", "requested_blocks", want, "got_blocks", got)
		j.st.AddResid((want - got) * int64(op.IBSPi))
		cs.leaveAfterWrite = true
		cs.leaveReason = nil // assume at end rather than error
		cs.icbpt = int(got)
		// Round down: no partial writes from pt reads.
		cs.ocbpt = int(got) * op.IBS / op.OBS
	}
	j.st.AddInFull(int64(cs.icbpt))
	return nil
}

// cpReadFifo loops until the full transfer is read or EOF. Fifo reads
// never seek.
func (j *Job) cpReadFifo(cs *copyState) error {
	op := j.op
	numbytes := cs.icbpt * op.IBS
	if offset := op.Skip * int64(op.IBS); offset != cs.ifFilepos {
		slog.Debug("fifo: not moving input filepos", "offset", offset)
		cs.ifFilepos = offset
	}

	k := 0
	for k < numbytes {
		res, err := j.readRetryIntr(j.eps.In.Fd(), j.buf[k:numbytes])
		if err != nil {
			return fmt.Errorf("read(fifo), skip=%d: %v: %w", op.Skip, err, errOther)
		}
		if res == 0 {
			cs.icbpt = k / op.IBS
			if k%op.IBS > 0 {
				cs.icbpt++
				j.st.AddInPartial(1)
				j.st.AddInFull(-1)
			}
			cs.ocbpt = k / op.OBS
			cs.leaveAfterWrite = true
			cs.leaveReason = nil // EOF
			cs.partialWriteBytes = k % op.OBS
			break
		}
		k += res
	}
	cs.ifFilepos += int64(k)
	cs.bytesRead = k
	j.st.AddInFull(int64(cs.icbpt))
	return nil
}

// cpReadTape is a single read; tape short reads are normal and leave a
// recoverable marker.
func (j *Job) cpReadTape(cs *copyState) error {
	op := j.op
	num := cs.icbpt * op.IBS
	j.readTapeNumbytes = num

	res, err := j.readRetryIntr(j.eps.In.Fd(), j.buf[:num])

	j.printTapeSummary(res, "")

	if err != nil {
		j.lastTapeReadLen = 0
		// The st driver reports a tape block larger than the
		// requested read length as ENOMEM.
		if errors.Is(err, unix.ENOMEM) {
			return fmt.Errorf("reading, skip=%d: tape block larger than requested read length: %w",
				op.Skip, errOther)
		}
		if isEIOLike(err) {
			return fmt.Errorf("reading tape, skip=%d: %v: %w", op.Skip, err, pt.ErrMediumHard)
		}
		return fmt.Errorf("reading tape, skip=%d: %v: %w", op.Skip, err, errOther)
	}

	if res == j.lastTapeReadLen {
		j.consecSameLenReads++
	} else {
		j.lastTapeReadLen = res
		j.consecSameLenReads = 1
	}
	if res < num {
		cs.icbpt = res / op.IBS
		if res%op.IBS > 0 {
			cs.icbpt++
			j.st.AddInPartial(1)
			j.st.AddInFull(-1)
		}
		cs.ocbpt = res / op.OBS
		cs.leaveAfterWrite = true
		cs.leaveReason = errTapeShortRead
		cs.partialWriteBytes = res % op.OBS
		if op.Verbose == 2 && j.consecSameLenReads == 1 {
			slog.Debug("short tape read", "requested_bytes", num, "got_bytes", res)
		}
	}
	cs.ifFilepos += int64(res)
	cs.bytesRead = res
	j.st.AddInFull(int64(cs.icbpt))
	return nil
}

// printTapeSummary reports previous consecutive same-length reads when
// the read length changes.
func (j *Job) printTapeSummary(res int, prefix string) {
	if j.op.Verbose > 1 && res != j.lastTapeReadLen && j.consecSameLenReads >= 1 {
		kind := ""
		if j.lastTapeReadLen < j.readTapeNumbytes {
			kind = " short"
		}
		slog.Info("tape read summary", "prefix", prefix,
			"consecutive", j.consecSameLenReads, "kind", kind,
			"bytes", j.lastTapeReadLen)
	}
}

// cpReadBlockReg is the input read for block devices and regular
// files, seeking only when the tracked position disagrees.
func (j *Job) cpReadBlockReg(cs *copyState) error {
	op := j.op
	offset := op.Skip * int64(op.IBSPi)
	numbytes := cs.icbpt * op.IBSPi
	ibs := op.IBSPi

	if offset != cs.ifFilepos {
		slog.Debug("moving if filepos", "new_pos", offset)
		if _, err := unix.Seek(int(j.eps.In.Fd()), offset, unix.SEEK_SET); err != nil {
			return fmt.Errorf("lseek on input, new_pos=%d: %v: %w",
				offset, err, pt.ErrFileError)
		}
		cs.ifFilepos = offset
	}
	res, err := j.readRetryIntr(j.eps.In.Fd(), j.buf[:numbytes])
	slog.Debug("read(unix)", "requested_bytes", numbytes, "res", res)

	if op.IFlags.Coe && (err != nil || res < numbytes) {
		if err != nil {
			slog.Debug("read error, going to coe", "skip", op.Skip, "error", err)
		} else {
			slog.Debug("short read, going to coe", "skip", op.Skip)
			cs.ifFilepos += int64(res)
		}
		return j.coeReadBlockReg(cs, res, err)
	}
	if err != nil {
		if isEIOLike(err) {
			return fmt.Errorf("reading, skip=%d: %v: %w", op.Skip, err, pt.ErrMediumHard)
		}
		return fmt.Errorf("reading, skip=%d: %v: %w", op.Skip, err, errOther)
	}
	if res < numbytes {
		cs.icbpt = res / ibs
		if res%ibs > 0 {
			cs.icbpt++
			j.st.AddInPartial(1)
			j.st.AddInFull(-1)
		}
		cs.ocbpt = res / op.OBS
		cs.leaveAfterWrite = true
		cs.leaveReason = nil // fall through is assumed EOF
		slog.Debug("short read", "skip", op.Skip, "requested_bytes", numbytes,
			"got_bytes", res)
		// Probe one more block to distinguish EOF from a latent
		// medium error.
		res2 := 0
		if res >= ibs && res <= numbytes-ibs {
			var err2 error
			res2, err2 = j.readRetryIntr(j.eps.In.Fd(), j.buf[res:res+ibs])
			if err2 != nil {
				res2 = 0
				if isEIOLike(err2) {
					cs.leaveReason = pt.ErrMediumHard
					j.st.NoteUnrecovered(op.Skip + int64(cs.icbpt))
				} else {
					cs.leaveReason = errOther
				}
				slog.Debug("probe read after short read failed",
					"skip", op.Skip+int64(cs.icbpt), "error", err2)
			} else {
				cs.ifFilepos += int64(res2) // could have moved filepos
				slog.Debug("extra read after short read", "res", res2)
			}
		}
		if cs.leaveReason == nil { // EOF, allow for partial write
			cs.partialWriteBytes = (res + res2) % op.OBS
		} else if res%op.OBS > 0 { // extra bytes bump the output count
			cs.ocbpt++
		}
	}
	cs.ifFilepos += int64(res)
	cs.bytesRead = res
	j.st.AddInFull(int64(cs.icbpt))
	return nil
}

// coeProcessEIO accounts one unreadable block. Returns an error only
// when coe_limit is exceeded.
func (j *Job) coeProcessEIO(skip int64) error {
	op := j.op
	if op.CoeLimit > 0 {
		op.CoeCount++
		if op.CoeCount > op.CoeLimit {
			return fmt.Errorf("coe_limit on consecutive reads exceeded: %w",
				pt.ErrMediumHard)
		}
	}
	j.st.NoteUnrecovered(skip)
	j.st.AddInPartial(1)
	j.st.AddInFull(-1)
	fmt.Fprintf(errWriter, ">> unrecovered read error at blk=%d, substitute zeros\n", skip)
	j.ebl.Put(skip)
	return nil
}

func (j *Job) zeroCoeLimitCount() {
	if j.op.CoeLimit > 0 {
		j.op.CoeCount = 0
	}
}

// coeReadBlockReg recovers a failed bulk read: the prefix of good
// whole blocks is kept, then the remainder is read one block at a
// time, substituting zeros for unreadable blocks.
//
//nolint:gocyclo // block-at-a-time recovery is inherently branchy
func (j *Job) coeReadBlockReg(cs *copyState, numread int, readErr error) error {
	op := j.op
	ibs := op.IBSPi

	if readErr == nil && numread == 0 {
		cs.icbpt = 0
		cs.ocbpt = 0
		cs.leaveAfterWrite = true
		cs.leaveReason = nil
		return nil // EOF
	}
	numRead := 0
	if readErr != nil {
		if !isEIOLike(readErr) {
			return fmt.Errorf("reading, skip=%d: %v: %w", op.Skip, readErr, errOther)
		}
		if cs.icbpt == 1 {
			// Don't read again, this must be a bad block.
			zeroFill(j.buf[:ibs])
			if err := j.coeProcessEIO(op.Skip); err != nil {
				return err
			}
			j.st.AddInFull(1)
			cs.bytesRead += ibs
			return nil
		}
	} else {
		numRead = numread / ibs * ibs
	}

	k := numRead / ibs
	if k > 0 {
		j.st.AddInFull(int64(k))
		j.zeroCoeLimitCount()
	}
	cs.bytesRead = numRead
	mySkip := op.Skip + int64(k)
	offset := mySkip * int64(ibs)
	var res int

	for ; k < cs.icbpt; k, mySkip, offset = k+1, mySkip+1, offset+int64(ibs) {
		if offset != cs.ifFilepos {
			slog.Debug("moving if filepos", "new_pos", offset)
			if _, err := unix.Seek(int(j.eps.In.Fd()), offset, unix.SEEK_SET); err != nil {
				return fmt.Errorf("lseek on input, new_pos=%d: %v: %w",
					offset, err, pt.ErrFileError)
			}
			cs.ifFilepos = offset
		}
		pos := k * ibs
		zeroFill(j.buf[pos : pos+ibs])
		var err error
		res, err = j.readRetryIntr(j.eps.In.Fd(), j.buf[pos:pos+ibs])
		switch {
		case err != nil && isEIOLike(err):
			if err := j.coeProcessEIO(mySkip); err != nil {
				return err
			}
			res = 0
		case err != nil:
			slog.Warn("reading 1 block failed", "skip", mySkip, "error", err)
			cs.leaveReason = errOther
			goto shortRead
		case res == 0:
			cs.leaveReason = nil
			goto shortRead
		case res < ibs:
			slog.Debug("short 1-block read", "skip", mySkip, "wanted", ibs, "got", res)
			cs.leaveReason = nil // assume EOF
			goto shortRead
		default:
			j.zeroCoeLimitCount()
			cs.ifFilepos += int64(ibs)
			slog.Debug("reading 1 block okay", "skip", mySkip)
		}
		j.st.AddInFull(1)
		cs.bytesRead += ibs
	}
	return nil

shortRead:
	totalRead := ibs*k + max(res, 0)
	cs.icbpt = totalRead / ibs
	if totalRead%ibs > 0 {
		cs.icbpt++
		j.st.AddInPartial(1)
	}
	cs.ocbpt = totalRead / op.OBS
	cs.leaveAfterWrite = true
	if cs.leaveReason == nil {
		cs.partialWriteBytes = totalRead % op.OBS
	} else if totalRead%op.OBS > 0 {
		// A short read that is not EOF implies partial writes.
		cs.ocbpt++
	}
	return nil
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
