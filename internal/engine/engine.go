// Package engine runs the block copy: the per-iteration
// read-compare-write loop, the continue-on-error recovery, and the
// sparse/sparing optimisations.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/yiyiyouwo/ddpt/internal/errblk"
	"github.com/yiyiyouwo/ddpt/internal/fileclass"
	"github.com/yiyiyouwo/ddpt/internal/opener"
	"github.com/yiyiyouwo/ddpt/internal/options"
	"github.com/yiyiyouwo/ddpt/internal/platform"
	"github.com/yiyiyouwo/ddpt/internal/signals"
	"github.com/yiyiyouwo/ddpt/internal/stats"
)

// Job owns the whole-run state of one copy.
type Job struct {
	op  *options.Options
	eps *opener.Endpoints
	st  *stats.Collector
	brk *signals.Broker
	ebl *errblk.Log

	buf   []byte // primary transfer buffer, ibs_pi * bpt_i
	buf2  []byte // sparing read-back buffer, same size
	zeros []byte // all-zero compare/write buffer, obpt * obs

	obpt int // output blocks per transfer

	sparseActive  bool
	sparingActive bool
	trimActive    bool

	preallocKeptSize bool

	// nocache advice windows
	lowestSkip int64
	lowestSeek int64

	// tape read bookkeeping
	readTapeNumbytes   int
	lastTapeReadLen    int
	consecSameLenReads int
	printedEWMessage   bool
}

// Result is the outcome of a copy run.
type Result struct {
	Stats stats.Snapshot
	Err   error
}

// New assembles a Job from parsed options and opened endpoints. The
// caller has already run the capacity calculator.
func New(op *options.Options, eps *opener.Endpoints, st *stats.Collector,
	brk *signals.Broker) *Job {
	return &Job{
		op:         op,
		eps:        eps,
		st:         st,
		brk:        brk,
		lowestSkip: -1,
		lowestSeek: -1,
	}
}

// Prepare applies the post-open flag policies, the protection-info
// block size inflation, cdb size promotion, buffer allocation and
// output pre-allocation. Returns an error that should abort the run.
//
//nolint:gocyclo // checklist of post-open policies
func (j *Job) Prepare() error {
	op := j.op

	// Reading from or writing to tape defaults to one block per
	// transfer so an accidental wrong tape block size cannot slip in.
	if !op.BptGiven &&
		(op.InType.Has(fileclass.Tape) || op.OutType.Has(fileclass.Tape)) {
		op.BptI = 1
	}

	if op.IFlags.Sparse > 0 && op.OFlags.Sparse == 0 {
		if op.OutType.Has(fileclass.Null) {
			slog.Warn("sparse flag usually ignored on input; set it on output in this case")
			op.OFlags.Sparse++
		} else {
			slog.Warn("sparse flag ignored on input")
		}
	}
	if op.OFlags.Sparse > 0 {
		if op.OutType.Has(fileclass.Fifo | fileclass.Tape) {
			slog.Warn("oflag=sparse needs seekable output file, ignore")
			op.OFlags.Sparse = 0
		} else {
			j.sparseActive = true
			j.trimActive = op.OFlags.Wsame16
		}
	}
	if op.OFlags.Sparing {
		if op.OutType.Has(fileclass.Null | fileclass.Fifo | fileclass.Tape) {
			slog.Warn("oflag=sparing needs a readable and seekable output file, ignore")
			op.OFlags.Sparing = false
		} else {
			j.sparingActive = true
		}
	}
	if op.OFlags.Prealloc &&
		op.OutType.Has(fileclass.Null|fileclass.Fifo|fileclass.Tape|fileclass.PassThrough) {
		slog.Warn("oflag=pre-alloc needs a normal output file, ignore")
		op.OFlags.Prealloc = false
	}

	if err := j.setupProtect(); err != nil {
		return err
	}

	if op.DDCount < 0 && !op.ReadingFifo {
		return errors.New("couldn't calculate count, please give one")
	}

	j.promoteCdbSize()

	j.obpt = op.IBS * op.BptI / op.OBS
	j.buf = allocBuffer(op.IBSPi*op.BptI, op.IFlags.Direct || op.OFlags.Direct)
	if op.OFlags.Sparing {
		j.buf2 = allocBuffer(op.IBSPi*op.BptI, op.IFlags.Direct || op.OFlags.Direct)
	}
	if op.OFlags.Sparse > 0 {
		j.zeros = make([]byte, j.obpt*op.OBS)
	}

	if op.OFlags.Prealloc && op.DDCount > 0 && j.eps.Out != nil {
		keptSize, err := platform.Preallocate(j.eps.Out.Fd(),
			int64(op.OBS)*op.Seek, int64(op.OBS)*op.DDCount)
		if err != nil {
			return fmt.Errorf("unable to pre-allocate space: %w", err)
		}
		j.preallocKeptSize = keptSize
		slog.Debug("pre-allocated", "bytes", int64(op.OBS)*op.DDCount,
			"offset", int64(op.OBS)*op.Seek, "kept_size", keptSize)
	}

	if op.IFlags.Errblk {
		l, err := errblk.Open(errblk.DefaultPath)
		if err != nil {
			slog.Warn("unable to open or create errblk log", "error", err)
		} else {
			j.ebl = l
		}
	}
	return nil
}

// setupProtect validates the protect= request against the devices and
// inflates the block sizes with the per-block PI bytes.
func (j *Job) setupProtect() error {
	op := j.op
	op.IBSPi = op.IBS
	op.OBSPi = op.OBS
	if op.RdProtect > 0 {
		if op.RdProtTyp == 0 || !op.InType.Has(fileclass.PassThrough) {
			return errors.New("IFILE is not a pt device or doesn't have protection information")
		}
		if op.IBS != op.OBS {
			return errors.New("protect: don't support IFILE and OFILE with different block sizes")
		}
		if op.WrProtect > 0 && op.RdPIExp != op.WrPIExp {
			return errors.New("don't support IFILE and OFILE with different P_I_EXP fields")
		}
		extra := 8 << op.RdPIExp
		op.IBSPi += extra
		op.OBSPi += extra
	}
	if op.WrProtect > 0 {
		if op.WrProtTyp == 0 || !op.OutType.Has(fileclass.PassThrough) {
			return errors.New("OFILE is not a pt device or doesn't have protection information")
		}
		if op.IBS != op.OBS {
			return errors.New("protect: don't support IFILE and OFILE with different block sizes")
		}
		extra := 8 << op.WrPIExp
		if op.RdProtect == 0 {
			op.IBSPi += extra
			op.OBSPi += extra
		}
	}
	return nil
}

// promoteCdbSize bumps READ/WRITE commands to the 16-byte form when
// the offsets or counts overflow the shorter forms' fields.
func (j *Job) promoteCdbSize() {
	op := j.op
	if op.CdbszGiven {
		return
	}
	const (
		maxU32 = int64(1) << 32
		maxU16 = 1 << 16
	)
	if op.InType.Has(fileclass.PassThrough) && op.IFlags.CdbSize < 16 &&
		(op.DDCount+op.Skip >= maxU32 || op.BptI >= maxU16) {
		slog.Debug("SCSI command size increased to 16 bytes", "path", op.InFile)
		op.IFlags.CdbSize = 16
	}
	if op.OutType.Has(fileclass.PassThrough) && op.OFlags.CdbSize < 16 &&
		(op.DDCount+op.Seek >= maxU32 || op.IBS*op.BptI/op.OBS >= maxU16) {
		slog.Debug("SCSI command size increased to 16 bytes", "path", op.OutFile)
		op.OFlags.CdbSize = 16
	}
}

// allocBuffer returns a zeroed buffer, page-aligned when direct I/O
// needs it.
func allocBuffer(size int, direct bool) []byte {
	if !direct {
		return make([]byte, size)
	}
	psz := os.Getpagesize()
	raw := make([]byte, size+psz)
	off := 0
	if rem := sliceAddr(raw) % uintptr(psz); rem != 0 {
		off = psz - int(rem)
	}
	return raw[off : off+size]
}

// Run drives the copy to completion and renders the final report.
func (j *Job) Run() Result {
	op := j.op

	read1 := op.OutType.Has(fileclass.Null)
	if read1 && !op.OutFGiven && (op.DDCount > 0 || op.ReadingFifo) {
		fmt.Fprintln(os.Stderr, "Output file not specified so no copy, just reading input")
	}

	j.installSignalCallbacks()

	err := j.doCopy()
	j.syncOutput()

	if j.ebl != nil {
		j.ebl.Close()
	}
	j.printStats("")
	if s := j.st.Snapshot(); s.SumOfResids > 0 {
		fmt.Fprintf(os.Stderr, ">> Non-zero sum of residual counts=%d\n", s.SumOfResids)
	}
	if op.DoTime {
		stats.WriteThroughput(os.Stderr, "", false, j.st.Snapshot(), j.reportContext())
	}
	j.finalize()

	if err == nil && op.ErrToReport != 0 {
		err = exitCodeError(op.ErrToReport)
	}
	if op.DDCount != 0 && !op.ReadingFifo {
		j.printEarlyTermination(err)
	}
	return Result{Stats: j.st.Snapshot(), Err: err}
}

func (j *Job) reportContext() stats.ReportContext {
	op := j.op
	return stats.ReportContext{
		Remaining:     op.DDCount,
		ReadingFifo:   op.ReadingFifo,
		SparseActive:  j.sparseActive,
		SparingActive: j.sparingActive,
		TrimActive:    j.trimActive,
		ReadOnly:      op.OutType.Has(fileclass.Null),
		IBS:           op.IBSHold,
	}
}

func (j *Job) printStats(prefix string) {
	stats.WriteReport(os.Stderr, prefix, j.st.Snapshot(), j.reportContext())
}

// installSignalCallbacks wires the progress and interruption reports
// into the broker's drain point.
func (j *Job) installSignalCallbacks() {
	op := j.op
	j.brk.OnInfo = func() {
		fmt.Fprintln(os.Stderr, "Progress report:")
		j.printStats("  ")
		if op.DoTime {
			stats.WriteThroughput(os.Stderr, "  ", true, j.st.Snapshot(), j.reportContext())
		}
		fmt.Fprintln(os.Stderr, "  continuing ...")
	}
	j.brk.OnInterrupt = func(sig os.Signal) {
		fmt.Fprintf(os.Stderr, "Interrupted by signal %v\n", sig)
		j.printStats("")
		if !op.ReadingFifo && op.OutTypeHold.Has(fileclass.Regular) &&
			!(op.OFlags.Prealloc && !j.preallocKeptSize) {
			fmt.Fprintln(os.Stderr,
				"To resume, invoke with same arguments plus oflag=resume")
		}
	}
}

// syncOutput flushes a regular or block output per the fdatasync and
// fsync flags, immediately after the loop ends.
func (j *Job) syncOutput() {
	op := j.op
	if j.eps.Out == nil ||
		op.OutType.Has(fileclass.PassThrough|fileclass.Null|fileclass.Fifo|
			fileclass.Char|fileclass.Tape) {
		return
	}
	switch {
	case op.OFlags.Fdatasync:
		if err := fdatasync(j.eps.Out.Fd()); err != nil {
			slog.Warn("fdatasync() error", "error", err)
		} else {
			slog.Debug("called fdatasync()", "path", op.OutFile)
		}
	case op.OFlags.Fsync:
		if err := j.eps.Out.Sync(); err != nil {
			slog.Warn("fsync() error", "error", err)
		} else {
			slog.Debug("called fsync()", "path", op.OutFile)
		}
	}
}

// finalize applies the tape close-time filemark policy and the SCSI
// cache synchronisation.
func (j *Job) finalize() {
	op := j.op
	if op.OutType.Has(fileclass.Tape) && j.eps.Out != nil {
		j.tapeCloseFilemark()
	}
	if op.OFlags.SSync && op.OutType.Has(fileclass.PassThrough) {
		fmt.Fprintf(os.Stderr, ">> SCSI synchronizing cache on %s\n", op.OutFile)
		if err := j.eps.OutPt.SyncCache(); err != nil {
			slog.Warn("synchronize cache failed", "error", err)
		}
	}
}

// tapeCloseFilemark applies the nofm/fsync matrix before close: the
// st driver otherwise writes a filemark and flushes when the file is
// closed after writing.
func (j *Job) tapeCloseFilemark() {
	op := j.op
	var policy platform.TapeClosePolicy
	switch {
	case op.OFlags.Nofm && op.OFlags.Fsync:
		policy = platform.TapeWeofSync
	case op.OFlags.Nofm:
		policy = platform.TapeWeofNone
	case op.OFlags.Fsync:
		policy = platform.TapeDriverDefault
	default:
		policy = platform.TapeWeofImmediate
	}
	if op.OFlags.Nofm {
		slog.Debug("suppressing writing of filemark on close")
	}
	if err := platform.TapeCloseFilemark(j.eps.Out.Fd(), policy); err != nil {
		slog.Warn("tape filemark handling failed", "error", err)
	}
}

func (j *Job) printEarlyTermination(err error) {
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Early termination, EOF on input?")
	case isMediumHard(err):
		fmt.Fprintln(os.Stderr, "Early termination, medium error occurred")
	case isProtection(err):
		fmt.Fprintln(os.Stderr, "Early termination, protection information error occurred")
	default:
		fmt.Fprintln(os.Stderr, "Early termination, some error occurred")
	}
}
