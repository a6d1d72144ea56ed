package options

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// ParseOperands processes the dd-style key=value operands. The long
// flags (--help and friends) are the CLI layer's problem; everything
// here is an operand.
func ParseOperands(op *Options, args []string) error {
	for _, arg := range args {
		key, val, hasEq := strings.Cut(arg, "=")
		if !hasEq {
			return fmt.Errorf("expected key=value, got %q: %w", arg, pt.ErrSyntax)
		}
		if err := applyOperand(op, key, val); err != nil {
			return err
		}
	}
	return SanityDefaults(op)
}

//nolint:gocyclo // one arm per operand keyword
func applyOperand(op *Options, key, val string) error {
	switch key {
	case "bpt":
		bptStr, obpcStr, hasObpc := strings.Cut(val, ",")
		n, err := ParseInt(bptStr)
		if err != nil {
			return fmt.Errorf("bad BPT argument to 'bpt=': %w", err)
		}
		if n > 0 {
			op.BptI = n
			op.BptGiven = true
		}
		if hasObpc {
			o, err := ParseInt(obpcStr)
			if err != nil {
				return fmt.Errorf("bad OBPC argument to 'bpt=': %w", err)
			}
			op.Obpc = o
		}
	case "bs":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'bs=': %w", err)
		}
		if op.BSGiven {
			return fmt.Errorf("second 'bs=' option given, dangerous: %w", pt.ErrSyntax)
		}
		if op.IBSGiven || op.OBSGiven {
			return fmt.Errorf("'bs=' cannot be combined with 'ibs=' or 'obs=': %w",
				pt.ErrSyntax)
		}
		op.BSGiven = true
		op.IBS = n
		op.OBS = n
	case "cbs":
		slog.Warn("the cbs= option is ignored")
	case "cdbsz":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'cdbsz=': %w", err)
		}
		op.IFlags.CdbSize = n
		op.OFlags.CdbSize = n
		op.CdbszGiven = true
	case "coe":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'coe=': %w", err)
		}
		op.IFlags.Coe = n > 0
		op.OFlags.Coe = n > 0
	case "coe_limit":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'coe_limit=': %w", err)
		}
		op.CoeLimit = n
	case "conv":
		if err := parseConv(val, op.IFlags, op.OFlags); err != nil {
			return fmt.Errorf("bad argument to 'conv=': %w", err)
		}
	case "count":
		if val != "-1" {
			n, err := ParseNum(val)
			if err != nil {
				return fmt.Errorf("bad argument to 'count=': %w", err)
			}
			op.DDCount = n
			op.CountGiven = true
		} // count=-1 is accepted, means calculate count
	case "ibs":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'ibs=': %w", err)
		}
		if op.BSGiven {
			return fmt.Errorf("'ibs=' cannot be combined with 'bs='; try 'obs=' instead: %w",
				pt.ErrSyntax)
		}
		op.IBSGiven = true
		op.IBS = n
	case "if":
		if op.InFile != "" {
			return fmt.Errorf("second IFILE argument: %w", pt.ErrSyntax)
		}
		op.InFile = val
	case "iflag":
		if err := parseFlags(val, op.IFlags); err != nil {
			return fmt.Errorf("bad argument to 'iflag=': %w", err)
		}
	case "intio":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'intio=': %w", err)
		}
		op.InterruptIO = n > 0
	case "iseek", "skip":
		n, err := ParseNum(val)
		if err != nil {
			return fmt.Errorf("bad argument to '%s=': %w", key, err)
		}
		op.Skip = n
	case "obs":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'obs=': %w", err)
		}
		if op.BSGiven {
			return fmt.Errorf("'obs=' cannot be combined with 'bs='; try 'ibs=' instead: %w",
				pt.ErrSyntax)
		}
		op.OBSGiven = true
		op.OBS = n
	case "of":
		if op.OutFGiven {
			return fmt.Errorf("second OFILE argument: %w", pt.ErrSyntax)
		}
		op.OutFile = val
		op.OutFGiven = true
	case "of2":
		if op.Out2File != "" {
			return fmt.Errorf("second OFILE2 argument: %w", pt.ErrSyntax)
		}
		op.Out2File = val
	case "oflag":
		if err := parseFlags(val, op.OFlags); err != nil {
			return fmt.Errorf("bad argument to 'oflag=': %w", err)
		}
	case "oseek", "seek":
		n, err := ParseNum(val)
		if err != nil {
			return fmt.Errorf("bad argument to '%s=': %w", key, err)
		}
		op.Seek = n
	case "protect":
		rdStr, wrStr, hasWr := strings.Cut(val, ",")
		n, err := ParseInt(rdStr)
		if err != nil || n < 0 || n > 7 {
			return fmt.Errorf("bad RDP argument to 'protect=': %w", pt.ErrSyntax)
		}
		op.RdProtect = n
		if hasWr {
			w, err := ParseInt(wrStr)
			if err != nil || w < 0 || w > 7 {
				return fmt.Errorf("bad WRP argument to 'protect=': %w", pt.ErrSyntax)
			}
			op.WrProtect = w
		}
	case "retries":
		n, err := ParseInt(val)
		if err != nil {
			return fmt.Errorf("bad argument to 'retries=': %w", err)
		}
		op.IFlags.Retries = n
		op.OFlags.Retries = n
	case "status":
		switch {
		case strings.HasPrefix(val, "null"):
		case strings.HasPrefix(val, "noxfer"):
			op.DoTime = false
		default:
			return fmt.Errorf("'status=' expects 'noxfer' or 'null': %w", pt.ErrSyntax)
		}
	case "verbose", "verb":
		var n int
		var err error
		if strings.HasPrefix(val, "-") {
			m, perr := ParseInt(val[1:])
			n, err = -m, perr
		} else {
			n, err = ParseInt(val)
		}
		if err != nil {
			return fmt.Errorf("bad argument to 'verbose=': %w", err)
		}
		op.VerboseGiven = true
		if n < 0 {
			op.Quiet = true
			n = 0
		}
		op.Verbose = n
	default:
		return fmt.Errorf("unrecognized option %q, use --help: %w", key, pt.ErrSyntax)
	}
	return nil
}

// parseConv handles the conv= comma list. Most conversions are
// aliases for flags; sync and notrunc are accepted for dd
// compatibility and do nothing (ddpt zero-pads errored blocks by
// default, and not truncating is already the default action).
func parseConv(arg string, ifp, ofp *Flags) error {
	if arg == "" {
		return fmt.Errorf("no conversions found: %w", pt.ErrSyntax)
	}
	for _, tok := range strings.Split(arg, ",") {
		switch tok {
		case "fdatasync":
			ofp.Fdatasync = true
		case "fsync":
			ofp.Fsync = true
		case "noerror":
			ifp.Coe = true // will still fail on write error
		case "notrunc":
			// default action, accepted as a no-op
		case "null":
		case "resume":
			ofp.Resume = true
		case "sparing":
			ofp.Sparing = true
		case "sparse":
			ofp.Sparse++
		case "sync":
			// dd pads errored blocks with zeros; that is the default
			// here, so accept the typical 'conv=noerror,sync' pairing
		case "trunc":
			ofp.Trunc = true
		default:
			return fmt.Errorf("unrecognised conversion %q: %w", tok, pt.ErrSyntax)
		}
	}
	return nil
}

//nolint:gocyclo // one arm per flag keyword
func parseFlags(arg string, fp *Flags) error {
	if arg == "" {
		return fmt.Errorf("no flag found: %w", pt.ErrSyntax)
	}
	for _, tok := range strings.Split(arg, ",") {
		switch tok {
		case "append":
			fp.Append = true
		case "coe":
			fp.Coe = true
		case "direct":
			fp.Direct = true
		case "dpo":
			fp.DPO = true
		case "errblk":
			fp.Errblk = true
		case "excl":
			fp.Excl = true
		case "fdatasync":
			fp.Fdatasync = true
		case "flock":
			fp.Flock = true
		case "force":
			fp.Force = true
		case "fsync":
			fp.Fsync = true
		case "fua_nv":
			fp.FUANV = true
		case "fua":
			fp.FUA = true
		case "ignoreew": // ignore early warning
			fp.IgnoreEW = true
		case "nocache":
			fp.Nocache++
		case "nofm": // no filemark on tape close
			fp.Nofm = true
		case "nopad":
			fp.Nopad = true
		case "norcap":
			fp.Norcap = true
		case "nowrite":
			fp.Nowrite = true
		case "null":
		case "pad":
			fp.Pad = true
		case "pre-alloc", "prealloc":
			fp.Prealloc = true
		case "pt":
			fp.PT = true
		case "rarc":
			fp.RARC = true
		case "resume":
			fp.Resume = true
		case "self":
			fp.Self = true
		case "sparing":
			fp.Sparing = true
		case "sparse":
			fp.Sparse++
		case "ssync":
			fp.SSync = true
		case "strunc":
			fp.Strunc = true
		case "sync":
			fp.Sync = true
		case "trim", "unmap":
			// trim (ATA term) and unmap (SCSI term) are synonyms
			fp.Wsame16 = true
		case "trunc":
			fp.Trunc = true
		default:
			return fmt.Errorf("unrecognised flag %q: %w", tok, pt.ErrSyntax)
		}
	}
	return nil
}

// SanityDefaults fills derived defaults and applies the cross-flag
// policies that do not need the files opened yet.
//
//nolint:gocyclo // straight checklist of operand interactions
func SanityDefaults(op *Options) error {
	switch {
	case op.IBS == 0 && op.OBS == 0:
		op.IBS = DefBlockSize
		op.OBS = DefBlockSize
		if op.InFile != "" {
			slog.Warn("assume block size for both input and output",
				"bytes", DefBlockSize)
		}
	case op.OBS == 0:
		op.OBS = DefBlockSize
		if op.IBS != DefBlockSize && op.OutFile != "" {
			slog.Warn("neither obs nor bs given", "obs", op.OBS)
		}
	case op.IBS == 0:
		op.IBS = DefBlockSize
		if op.OBS != DefBlockSize {
			slog.Warn("neither ibs nor bs given", "ibs", op.IBS)
		}
	}
	op.IBSHold = op.IBS
	if !op.BptGiven {
		op.BptI = DefaultBpt(op.IBS)
	}
	if op.IBS != op.OBS && (op.IBS*op.BptI)%op.OBS != 0 {
		return fmt.Errorf(
			"when 'ibs' and 'obs' differ, ((ibs*bpt)/obs) must have no remainder (bpt=%d): %w",
			op.BptI, pt.ErrSyntax)
	}
	if op.Skip < 0 || op.Seek < 0 {
		return fmt.Errorf("neither skip nor seek can be negative: %w", pt.ErrSyntax)
	}
	if op.OFlags.Append && op.Seek > 0 {
		return fmt.Errorf("can't use both append and seek switches: %w", pt.ErrSyntax)
	}
	if op.BptI < 1 {
		return fmt.Errorf("bpt must be greater than 0: %w", pt.ErrSyntax)
	}
	switch c := op.IFlags.CdbSize; c {
	case 6, 10, 12, 16, 32:
	default:
		return fmt.Errorf("cdbsz must be one of 6, 10, 12, 16 or 32 (got %d): %w",
			c, pt.ErrSyntax)
	}

	// Flags that only make sense on one side.
	if op.IFlags.Append {
		slog.Warn("append flag ignored on input")
	}
	if op.IFlags.IgnoreEW {
		slog.Warn("ignoreew flag ignored on input")
	}
	if op.IFlags.Nofm {
		slog.Warn("nofm flag ignored on input")
	}
	if op.IFlags.Prealloc {
		slog.Warn("pre-alloc flag ignored on input")
	}
	if op.IFlags.Sparing {
		slog.Warn("sparing flag ignored on input")
	}
	if op.IFlags.SSync {
		slog.Warn("ssync flag ignored on input")
	}

	if op.OFlags.Trunc {
		switch {
		case op.OFlags.Resume:
			op.OFlags.Trunc = false
			slog.Debug("trunc ignored due to resume flag, otherwise open would truncate too early")
		case op.OFlags.Append:
			op.OFlags.Trunc = false
			slog.Warn("trunc ignored due to append flag")
		case op.OFlags.Sparing:
			return fmt.Errorf("trunc flag conflicts with sparing: %w", pt.ErrSyntax)
		}
	}

	if op.IFlags.Self || op.OFlags.Self {
		op.OFlags.Self = true
		if op.IFlags.Wsame16 || op.OFlags.Wsame16 {
			op.OFlags.Wsame16 = true
			op.OFlags.Nowrite = true
		}
		if op.OutFile == "" {
			op.OutFile = op.InFile
		}
		if op.Seek == 0 && op.Skip > 0 {
			if op.IBS == op.OBS {
				op.Seek = op.Skip
			} else if op.OBS > 0 {
				l := op.Skip * int64(op.IBS)
				op.Seek = l / int64(op.OBS)
				if op.Seek*int64(op.OBS) != l {
					return fmt.Errorf(
						"self cannot translate skip to seek properly, try different skip value: %w",
						pt.ErrSyntax)
				}
			}
			slog.Debug("self copy", "seek", op.Seek)
		}
	}
	if op.OFlags.Wsame16 {
		op.OFlags.Sparse += 2
	}
	if op.OFlags.Strunc && op.OFlags.Sparse == 0 {
		op.OFlags.Sparse = 1
	}
	return nil
}
