package stats

import (
	"fmt"
	"io"
)

// ReportContext carries the pieces of run state the report needs
// beyond the raw counters.
type ReportContext struct {
	Remaining     int64 // dd_count still to copy; <= 0 suppressed
	ReadingFifo   bool
	SparseActive  bool
	SparingActive bool
	TrimActive    bool
	ReadOnly      bool  // output is the null sink: "read" not "transfer"
	IBS           int   // input block size for throughput math
}

// WriteReport renders the classic records-in / records-out block. The
// prefix (typically "" or two spaces) indents the counter lines; the
// remaining-count line is always indented by two spaces and the
// unrecovered LBA range line is not indented.
func WriteReport(w io.Writer, prefix string, s Snapshot, ctx ReportContext) {
	if ctx.Remaining > 0 && !ctx.ReadingFifo {
		fmt.Fprintf(w, "  remaining block count=%d\n", ctx.Remaining)
	}
	fmt.Fprintf(w, "%s%d+%d records in\n", prefix, s.InFull, s.InPartial)
	fmt.Fprintf(w, "%s%d+%d records out\n", prefix, s.OutFull, s.OutPartial)
	if ctx.SparseActive || ctx.SparingActive {
		switch {
		case ctx.TrimActive:
			verb := "trimmed"
			if s.TrimErrs > 0 {
				verb = "attempted trim"
			}
			if s.OutSparsePartial > 0 {
				fmt.Fprintf(w, "%s%d+%d %s records out\n", prefix,
					s.OutSparse, s.OutSparsePartial, verb)
			} else {
				fmt.Fprintf(w, "%s%d %s records out\n", prefix, s.OutSparse, verb)
			}
		case s.OutSparsePartial > 0:
			fmt.Fprintf(w, "%s%d+%d bypassed records out\n", prefix,
				s.OutSparse, s.OutSparsePartial)
		default:
			fmt.Fprintf(w, "%s%d bypassed records out\n", prefix, s.OutSparse)
		}
	}
	if s.RecoveredErrs > 0 {
		fmt.Fprintf(w, "%s%d recovered read errors\n", prefix, s.RecoveredErrs)
	}
	if s.Retries > 0 {
		fmt.Fprintf(w, "%s%d retries attempted\n", prefix, s.Retries)
	}
	if s.UnrecoveredErrs > 0 {
		fmt.Fprintf(w, "%s%d unrecovered read error%s\n", prefix,
			s.UnrecoveredErrs, plural(s.UnrecoveredErrs))
		if s.HighestUnrecovered >= 0 {
			fmt.Fprintf(w, "lowest unrecovered read lba=%d, highest unrecovered lba=%d\n",
				s.LowestUnrecovered, s.HighestUnrecovered)
		}
	}
	if s.WrRecoveredErrs > 0 {
		fmt.Fprintf(w, "%s%d recovered write errors\n", prefix, s.WrRecoveredErrs)
	}
	if s.WrUnrecoveredErrs > 0 {
		fmt.Fprintf(w, "%s%d unrecovered write error%s\n", prefix,
			s.WrUnrecoveredErrs, plural(s.WrUnrecoveredErrs))
	}
	if s.TrimErrs > 0 {
		fmt.Fprintf(w, "%s%d trim errors\n", prefix, s.TrimErrs)
	}
	if s.InterruptedRetries > 0 {
		noun := "retries"
		if s.InterruptedRetries == 1 {
			noun = "retry"
		}
		fmt.Fprintf(w, "%s%d %s after interrupted system call(s)\n",
			prefix, s.InterruptedRetries, noun)
	}
}

// WriteThroughput renders elapsed time, MB/sec (decimal megabytes, as
// the storage industry counts them), and, mid-copy, an estimate of the
// time remaining.
func WriteThroughput(w io.Writer, leadin string, contin bool, s Snapshot,
	ctx ReportContext) {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return
	}
	verb := "transfer"
	if ctx.ReadOnly {
		verb = "read"
	}
	sofar := ""
	if contin {
		sofar = " so far"
	}
	bytes := float64(ctx.IBS) * float64(s.InFull)
	fmt.Fprintf(w, "%stime to %s data%s: %.6f secs", leadin, verb, sofar, secs)
	rate := 0.0
	if secs > 0.00001 && bytes > 511 {
		rate = bytes / (secs * 1e6)
		if rate < 1.0 {
			fmt.Fprintf(w, " at %.1f KB/sec\n", rate*1000)
		} else {
			fmt.Fprintf(w, " at %.2f MB/sec\n", rate)
		}
	} else {
		fmt.Fprintln(w)
	}
	if contin && !ctx.ReadingFifo && rate > 0.01 && ctx.Remaining > 100 {
		rem := int(float64(ctx.IBS) * float64(ctx.Remaining) / (rate * 1e6))
		if rem > 10 {
			h := rem / 3600
			m := rem % 3600 / 60
			sec := rem % 60
			if h > 0 {
				fmt.Fprintf(w, "%sestimated time remaining: %d:%02d:%02d\n",
					leadin, h, m, sec)
			} else {
				fmt.Fprintf(w, "%sestimated time remaining: %d:%02d\n",
					leadin, m, sec)
			}
		}
	}
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
