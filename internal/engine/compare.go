package engine

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/yiyiyouwo/ddpt/internal/fileclass"
	"github.com/yiyiyouwo/ddpt/internal/platform"
)

// writeSame16 de-allocates (or zero-fills) a block range on the
// pass-through output. Trim failures count but never abort.
func (j *Job) writeSame16(lba int64, blocks int) {
	op := j.op
	err := j.eps.OutPt.WriteSame16(j.zeros[:op.OBS], op.OBS, lba, int64(blocks))
	if err != nil {
		slog.Debug("write same (unmap) failed", "lba", lba, "blocks", blocks,
			"error", err)
		j.st.AddTrimErrs(1)
	}
}

// dispatchWrite routes a (possibly partial) span of the transfer to
// the right writer for the output type.
func (j *Job) dispatchWrite(cs *copyState, seekDelta, blks int, buf []byte) error {
	switch {
	case j.op.OutType.Has(fileclass.Null):
		return nil
	case j.op.OutType.Has(fileclass.PassThrough):
		return j.cpWritePT(cs, seekDelta, blks, buf)
	default:
		return j.cpWriteBlockReg(cs, seekDelta, blks, buf)
	}
}

// finerCompWr is the fine-grained compare-and-write: the transfer is
// cut into obpc-block chunks, runs of mismatching chunks are written
// (or all chunks when obpc covers the whole transfer), and zero runs
// are trimmed when the unmap flag is up.
//
//nolint:gocyclo // run-length state machine over the chunk sequence
func (j *Job) finerCompWr(cs *copyState, b1, b2 []byte) error {
	op := j.op
	oblks := cs.ocbpt
	obs := op.OBS

	if op.Obpc >= oblks {
		return j.dispatchWrite(cs, 0, oblks, b1)
	}
	numbytes := oblks * obs
	if op.OutType.Has(fileclass.Regular) && cs.partialWriteBytes > 0 {
		numbytes += cs.partialWriteBytes
	}
	chunk := op.Obpc * obs
	trimCheck := op.OFlags.Sparse > 0 && op.OFlags.Wsame16 &&
		op.OutType.Has(fileclass.PassThrough)

	needWr, wrLen, wrK := false, 0, 0
	needTr, trLen, trK := false, 0, 0

	for k := 0; k < numbytes; k += chunk {
		n := min(chunk, numbytes-k)
		if bytes.Equal(b1[k:k+n], b2[k:k+n]) {
			if needWr {
				if err := j.dispatchWrite(cs, wrK/obs, wrLen/obs, b1[wrK:]); err != nil {
					return err
				}
				needWr = false
			}
			if needTr {
				trLen += n
			} else if trimCheck {
				needTr = true
				trLen = n
				trK = k
			}
			j.st.AddOutSparse(int64(n / obs))
		} else { // a run of unequal chunks
			if needWr {
				wrLen += n
			} else {
				needWr = true
				wrLen = n
				wrK = k
			}
			if needTr {
				j.writeSame16(op.Seek+int64(trK/obs), trLen/obs)
				needTr = false
			}
		}
	}
	if needWr {
		if err := j.dispatchWrite(cs, wrK/obs, wrLen/obs, b1[wrK:]); err != nil {
			return err
		}
	}
	if needTr {
		j.writeSame16(op.Seek+int64(trK/obs), trLen/obs)
	}
	return nil
}

// sparseCleanup runs after the loop for a regular sparse output whose
// last blocks were bypassed: either truncate to the final offset or
// materialise the tail with one zero block.
func (j *Job) sparseCleanup(cs *copyState) {
	op := j.op
	offset := op.Seek * int64(op.OBS)
	if offset <= cs.ofFilepos {
		return
	}
	if !op.OFlags.Strunc && op.OFlags.Sparse > 1 {
		slog.Debug("asked to bypass writing sparse last block zeros")
		return
	}
	st, err := j.eps.Out.Stat()
	if err != nil {
		slog.Warn("sparse cleanup: fstat failed", "error", err)
		return
	}
	switch {
	case offset == st.Size():
		slog.Debug("sparse cleanup: output already correct length")
	case offset < st.Size():
		slog.Debug("sparse cleanup: output longer than required, do nothing")
	case op.OFlags.Strunc:
		slog.Debug("about to truncate", "path", op.OutFile, "offset", offset)
		if err := j.eps.Out.Truncate(offset); err != nil {
			slog.Warn("could not ftruncate after copy", "error", err)
		}
	case op.OFlags.Sparse == 1:
		slog.Debug("writing sparse last block zeros")
		if err := j.cpWriteBlockReg(cs, -1, 1, j.zeros); err != nil {
			fmt.Fprintf(os.Stderr, "writing sparse last block zeros error, seek=%d\n",
				op.Seek-1)
		} else {
			j.st.SubOutSparse()
		}
	}
}

// fadviseAfter drops the just-moved ranges from the page cache when
// the nocache flags ask for it; iflag=nocache also raised readahead at
// open time.
func (j *Job) fadviseAfter(cs *copyState) {
	op := j.op
	inValid := op.InType == fileclass.Regular || op.InType == fileclass.Block
	outValid := op.OutType == fileclass.Regular || op.OutType == fileclass.Block
	out2Valid := op.Out2Type == fileclass.Regular || op.Out2Type == fileclass.Block

	if op.IFlags.Nocache > 0 && cs.bytesRead > 0 && inValid {
		if j.lowestSkip < 0 || op.Skip > j.lowestSkip {
			j.lowestSkip = op.Skip
		}
		if err := advise(j.eps.In, j.lowestSkip*int64(op.IBS),
			(op.Skip-j.lowestSkip)*int64(op.IBS)+int64(cs.bytesRead)); err != nil {
			slog.Debug("posix_fadvise on read failed", "skip", op.Skip, "error", err)
		}
	}
	if op.OFlags.Nocache&2 != 0 && cs.bytesOf2 > 0 && out2Valid {
		if err := advise(j.eps.Out2, 0, 0); err != nil {
			slog.Debug("posix_fadvise on of2 failed", "error", err)
		}
	}
	if op.OFlags.Nocache&1 != 0 && cs.bytesOf > 0 && outValid {
		if j.lowestSeek < 0 || op.Seek > j.lowestSeek {
			j.lowestSeek = op.Seek
		}
		if err := advise(j.eps.Out, j.lowestSeek*int64(op.OBS),
			(op.Seek-j.lowestSeek)*int64(op.OBS)+int64(cs.bytesOf)); err != nil {
			slog.Debug("posix_fadvise on output failed", "seek", op.Seek, "error", err)
		}
	}
}

func advise(f *os.File, off, length int64) error {
	if f == nil {
		return nil
	}
	return platform.AdviseDontNeed(f.Fd(), off, length)
}
