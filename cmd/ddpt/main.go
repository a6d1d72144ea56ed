// ddpt copies all or part of IFILE to OFILE, IBS*BPT bytes at a time.
// Similar to dd, with support for block devices reached through a SCSI
// pass-through.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yiyiyouwo/ddpt/internal/capacity"
	"github.com/yiyiyouwo/ddpt/internal/config"
	"github.com/yiyiyouwo/ddpt/internal/engine"
	"github.com/yiyiyouwo/ddpt/internal/opener"
	"github.com/yiyiyouwo/ddpt/internal/options"
	"github.com/yiyiyouwo/ddpt/internal/platform"
	"github.com/yiyiyouwo/ddpt/internal/pt"
	"github.com/yiyiyouwo/ddpt/internal/signals"
	"github.com/yiyiyouwo/ddpt/internal/stats"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func exitCode(err error) int {
	var ce interface{ ExitCode() int }
	if errors.As(err, &ce) {
		return ce.ExitCode()
	}
	return pt.Code(err)
}

//nolint:revive // cognitive-complexity: main CLI entry point wires the whole pipeline
func run() int {
	var (
		verboseFlag int
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:   "ddpt [bpt=BPT[,OBPC]] [bs=BS] [cdbsz=6|10|12|16|32] [coe=0|1]\n" +
			"            [coe_limit=CL] [conv=CONVS] [count=COUNT] [ibs=IBS] if=IFILE\n" +
			"            [iflag=FLAGS] [intio=0|1] [iseek=SKIP] [obs=OBS] [of=OFILE]\n" +
			"            [of2=OFILE2] [oflag=FLAGS] [oseek=SEEK] [protect=RDP[,WRP]]\n" +
			"            [retries=RETR] [seek=SEEK] [skip=SKIP] [status=STAT]\n" +
			"            [verbose=VERB]",
		Short: "copy data between files and storage devices, dd style",
		Long: `Copy all or part of IFILE to OFILE, IBS*BPT bytes at a time. Similar to
the dd command, with support for block devices, especially those accessed
via a SCSI pass-through.

FLAGS: append(o),coe,direct,dpo,errblk(i),excl,fdatasync(o),flock,force,
fsync(o),fua,fua_nv,ignoreew(o),nocache,nofm(o),nopad,norcap,nowrite(o),
null,pad,pre-alloc(o),pt,rarc(i),resume(o),self,sparing(o),sparse(o),
ssync(o),strunc(o),sync,trim(o),trunc(o),unmap(o).
CONVS: fdatasync,fsync,noerror,notrunc,null,resume,sparing,sparse,sync,trunc`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "ddpt %s\n", version)
				return nil
			}
			return runCopy(args, verboseFlag)
		},
	}

	rootCmd.Flags().CountVarP(&verboseFlag, "verbose", "v",
		"equivalent to verbose=1 (repeatable)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false,
		"print version information then exit")

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return pt.CodeSyntax
	}
	return 0
}

func runCopy(args []string, verboseFlag int) error {
	op := options.New()

	// Config file values are defaults only; operands overwrite them.
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}
	applyConfigDefaults(op, cfg.Defaults)

	if err := options.ParseOperands(op, args); err != nil {
		return &exitError{code: exitCode(err), err: err}
	}
	op.Verbose += verboseFlag

	if op.Quiet {
		if err := platform.RedirectStderrToNull(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to redirect stderr to /dev/null: %v\n", err)
		}
	}
	setupLogging(op)

	eps, err := opener.Open(op)
	if err != nil {
		return &exitError{code: exitCode(err), err: err}
	}
	defer eps.Close()

	done, err := capacity.CountCalculate(op, eps)
	if err != nil {
		return &exitError{code: exitCode(err), err: err}
	}
	if done {
		return nil
	}

	brk := &signals.Broker{}
	brk.Install()
	defer brk.Uninstall()

	slog.Debug("copy parameters",
		"skip", op.Skip, "seek", op.Seek, "count", op.DDCount,
		"ibs", op.IBS, "obs", op.OBS, "bpt", op.BptI, "obpc", op.Obpc)

	j := engine.New(op, eps, stats.New(op.DoTime), brk)
	if err := j.Prepare(); err != nil {
		return &exitError{code: exitCode(err), err: err}
	}
	res := j.Run()
	if res.Err != nil {
		return &exitError{code: exitCode(res.Err)}
	}
	return nil
}

// applyConfigDefaults seeds operand defaults from the optional config
// file before parsing.
func applyConfigDefaults(op *options.Options, d config.DefaultsConfig) {
	if d.Verbose != nil {
		if *d.Verbose < 0 {
			op.Quiet = true
		} else {
			op.Verbose = *d.Verbose
		}
	}
	if d.CoeLimit != nil {
		op.CoeLimit = *d.CoeLimit
	}
	if d.IntIO != nil {
		op.InterruptIO = *d.IntIO
	}
	if d.NoXfer != nil && *d.NoXfer {
		op.DoTime = false
	}
}

func setupLogging(op *options.Options) {
	level := slog.LevelWarn
	switch {
	case op.Quiet:
		level = slog.LevelError
	case op.Verbose == 1:
		level = slog.LevelInfo
	case op.Verbose >= 2:
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
