package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/covmap/internal/supervisor"
)

var errNoProgram = errors.New("no program given")

func (a *app) runCmd() *Command {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetInterspersed(false)

	seg := addSegmentFlags(fs)
	unique := fs.Bool("unique", false, "append a random UUID to the segment name")
	reportPath := fs.String("report", "", "write a JSON report to `file`")
	dumpPath := fs.String("dump", "", "write the raw bitmap to `file`")

	return &Command{
		Flags: fs,
		Usage: "run [flags] <program> [args...]",
		Short: "Run a program and report its coverage",
		Long: `Create a zeroed coverage segment, run the program with LLVM_COVMAP_SHM_NAME
and LLVM_COVMAP_SHM_SIZE set, and report how many bits it set once it
terminates. Interrupts are forwarded to the program. The program's exit
status is reported, not returned.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errNoProgram
			}

			cfg, err := a.loadConfig(seg.overrides())
			if err != nil {
				return err
			}

			name := cfg.Name
			if *unique {
				name += "-" + uuid.NewString()
			}

			_, err = supervisor.Run(ctx, supervisor.Config{
				Name:       name,
				Size:       cfg.Size,
				Policy:     cfg.Policy,
				Command:    args,
				ReportPath: resolvePath(cfg, *reportPath),
				DumpPath:   resolvePath(cfg, *dumpPath),
			}, supervisor.Options{
				Stdin:   o.In(),
				Stdout:  o.Out(),
				Stderr:  o.ErrOut(),
				Env:     a.environ(),
				Opener:  a.opener(cfg),
				Signals: a.sigCh,
				Logger:  a.logger(o),
			})

			return err
		},
	}
}
