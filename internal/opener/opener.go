// Package opener opens the three copy endpoints, applying each side's
// flag vector and recording the endpoint types on the options record.
package opener

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/yiyiyouwo/ddpt/internal/fileclass"
	"github.com/yiyiyouwo/ddpt/internal/options"
	"github.com/yiyiyouwo/ddpt/internal/platform"
	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// Endpoints holds the open handles of a copy run. Exactly one of the
// File/Device pair is set per pass-through side; a nil Out means the
// null sink.
type Endpoints struct {
	In   *os.File
	InPt pt.Device

	Out   *os.File
	OutPt pt.Device

	Out2 *os.File
}

// Close tears the endpoints down: pass-through handles through the
// provider, stdio left alone.
func (e *Endpoints) Close() {
	if e.InPt != nil {
		e.InPt.Close()
		e.InPt = nil
	} else if e.In != nil && e.In != os.Stdin {
		e.In.Close()
		e.In = nil
	}
	if e.OutPt != nil {
		e.OutPt.Close()
		e.OutPt = nil
	} else if e.Out != nil && e.Out != os.Stdout {
		e.Out.Close()
		e.Out = nil
	}
	if e.Out2 != nil && e.Out2 != os.Stdout {
		e.Out2.Close()
		e.Out2 = nil
	}
}

// Open opens IFILE, OFILE and OFILE2 per the flag vectors and fills
// the type fields of op.
func Open(op *options.Options) (*Endpoints, error) {
	eps := &Endpoints{}
	if err := openInput(op, eps); err != nil {
		return nil, err
	}
	if err := openOutput(op, eps); err != nil {
		eps.Close()
		return nil, err
	}
	if err := openSecond(op, eps); err != nil {
		eps.Close()
		return nil, err
	}
	return eps, nil
}

func openInput(op *options.Options, eps *Endpoints) error {
	if op.InFile == "" {
		return fmt.Errorf("'if=IFILE' option must be given; for stdin use 'if=-': %w",
			pt.ErrSyntax)
	}
	if op.InFile == "-" {
		op.InType = fileclass.Fifo
		op.ReadingFifo = true
		eps.In = os.Stdin
		slog.Debug("input file type", "type", op.InType.String())
		return nil
	}

	ifp := op.IFlags
	op.InType = fileclass.Classify(op.InFile)
	if op.InType.Has(fileclass.Error) {
		return fmt.Errorf("unable to access %s: %w", op.InFile, pt.ErrFileError)
	}
	if op.InType.Has(fileclass.Block|fileclass.Tape|fileclass.Other) && ifp.PT {
		op.InType |= fileclass.PassThrough
	}
	slog.Debug("input file type", "type", op.InType.String())
	if !op.InType.Has(fileclass.PassThrough) && op.RdProtect > 0 {
		slog.Warn("rdprotect ignored on non-pt device")
	}
	if op.InType.Has(fileclass.Fifo | fileclass.Char | fileclass.Tape) {
		op.ReadingFifo = true
	}
	if op.InType.Has(fileclass.Tape) && op.InType.Has(fileclass.PassThrough) {
		return fmt.Errorf("SCSI tape device %s not supported via pt: %w",
			op.InFile, pt.ErrFileError)
	}

	if op.InType.Has(fileclass.PassThrough) {
		dev, err := pt.Open(op.InFile, pt.OpenOpts{
			ReadOnly: true,
			Excl:     ifp.Excl,
			Direct:   ifp.Direct,
			Verbose:  op.Verbose,
		})
		if err != nil {
			return err
		}
		eps.InPt = dev
		return nil
	}

	flags := os.O_RDONLY
	if ifp.Direct {
		flags |= platform.ODirect
	}
	if ifp.Excl {
		flags |= os.O_EXCL
	}
	if ifp.Sync {
		flags |= os.O_SYNC
	}
	f, err := os.OpenFile(op.InFile, flags, 0)
	if err != nil {
		return fmt.Errorf("could not open %s for reading: %v: %w",
			op.InFile, err, pt.ErrFileError)
	}
	slog.Debug("opened input", "path", op.InFile, "flags", fmt.Sprintf("0x%x", flags))
	if ifp.Nocache > 0 {
		if err := platform.AdviseSequential(f.Fd()); err != nil {
			slog.Warn("posix_fadvise(SEQUENTIAL) failed", "error", err)
		}
	}
	if ifp.Flock {
		if err := platform.FlockExclusive(f.Fd()); err != nil {
			f.Close()
			return fmt.Errorf("flock(LOCK_EX | LOCK_NB) on %s failed: %v: %w",
				op.InFile, err, pt.ErrFlock)
		}
	}
	eps.In = f
	return nil
}

//nolint:gocyclo // the output open path carries most of the flag policy
func openOutput(op *options.Options, eps *Endpoints) error {
	if op.OutFile == "" {
		op.OutFile = "." // no 'of=OFILE' means the null sink
	}
	if op.OutFile == "-" {
		op.OutType = fileclass.Fifo
		op.OutTypeHold = op.OutType
		eps.Out = os.Stdout
		slog.Debug("output file type", "type", op.OutType.String())
		return nil
	}

	ofp := op.OFlags
	op.OutType = fileclass.Classify(op.OutFile)
	if op.OutType.Has(fileclass.Block|fileclass.Tape|fileclass.Other) && ofp.PT {
		op.OutType |= fileclass.PassThrough
	}
	op.OutTypeHold = op.OutType
	slog.Debug("output file type", "type", op.OutType.String())
	if !op.OutType.Has(fileclass.PassThrough) && op.WrProtect > 0 {
		slog.Warn("wrprotect ignored on non-pt device")
	}
	if op.OutType.Has(fileclass.Tape) && op.OutType.Has(fileclass.PassThrough) {
		return fmt.Errorf("SCSI tape device %s not supported via pt: %w",
			op.OutFile, pt.ErrFileError)
	}

	switch {
	case op.OutType.Has(fileclass.PassThrough):
		dev, err := pt.Open(op.OutFile, pt.OpenOpts{
			Excl:    ofp.Excl,
			Direct:  ofp.Direct,
			Verbose: op.Verbose,
		})
		if err != nil {
			return err
		}
		eps.OutPt = dev
		return nil
	case op.OutType.Has(fileclass.Null):
		return nil // don't bother opening
	}

	// Typically a regular file or block device node.
	var exists bool
	var size int64
	if st, err := os.Stat(op.OutFile); err == nil {
		exists = true
		size = st.Size()
	}
	flags := os.O_WRONLY
	if ofp.Sparing {
		flags = os.O_RDWR // sparing reads the destination first
	}
	if !exists {
		flags |= os.O_CREATE
	}
	if ofp.Direct {
		flags |= platform.ODirect
	}
	if ofp.Excl {
		flags |= os.O_EXCL
	}
	if ofp.Sync {
		flags |= os.O_SYNC
	}
	if ofp.Append {
		flags |= os.O_APPEND
	}
	var truncTo int64 = -1
	if op.OutType.Has(fileclass.Regular) && exists && ofp.Trunc && !ofp.Nowrite {
		if op.Seek > 0 {
			offset := op.Seek * int64(op.OBS)
			if size > offset {
				truncTo = offset // only truncate to shorten
			}
		} else {
			flags |= os.O_TRUNC
		}
	}
	f, err := os.OpenFile(op.OutFile, flags, 0o666)
	if err != nil {
		return fmt.Errorf("could not open %s for writing: %v: %w",
			op.OutFile, err, pt.ErrFileError)
	}
	if truncTo > 0 {
		if err := f.Truncate(truncTo); err != nil {
			f.Close()
			return fmt.Errorf("could not ftruncate %s after open (seek): %v: %w",
				op.OutFile, err, pt.ErrFileError)
		}
		// The file offset is not changed by ftruncate.
		slog.Debug("truncated output", "path", op.OutFile, "offset", truncTo)
	}
	if !exists && op.OutType.Has(fileclass.Error) {
		op.OutType = fileclass.Regular // exists now
		op.OutTypeHold = op.OutType
	}
	if ofp.Flock {
		if err := platform.FlockExclusive(f.Fd()); err != nil {
			f.Close()
			return fmt.Errorf("flock(LOCK_EX | LOCK_NB) on %s failed: %v: %w",
				op.OutFile, err, pt.ErrFlock)
		}
	}
	verb := "opened"
	if !exists {
		verb = "created"
	}
	slog.Debug(verb+" output", "path", op.OutFile, "flags", fmt.Sprintf("0x%x", flags))
	eps.Out = f
	return nil
}

func openSecond(op *options.Options, eps *Endpoints) error {
	if op.Out2File == "" {
		return nil
	}
	if op.Out2File == "-" {
		op.Out2Type = fileclass.Fifo
		eps.Out2 = os.Stdout
		slog.Debug("output 2 file type", "type", op.Out2Type.String())
		return nil
	}
	op.Out2Type = fileclass.Classify(op.Out2File)
	if op.Out2Type.Has(fileclass.Null) {
		return nil
	}
	if op.Out2Type.Has(fileclass.Error) {
		op.Out2Type = fileclass.Regular // will be created below
	} else if !op.Out2Type.Has(fileclass.Regular | fileclass.Fifo) {
		return fmt.Errorf("output 2 file type must be regular file or fifo: %w",
			pt.ErrFileError)
	}
	f, err := os.OpenFile(op.Out2File, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("could not open %s for writing: %v: %w",
			op.Out2File, err, pt.ErrFileError)
	}
	slog.Debug("output 2 file type", "type", op.Out2Type.String())
	eps.Out2 = f
	return nil
}
