package cli

import (
	"context"
	"errors"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/covmap/internal/inspect"
)

func (a *app) inspectCmd() *Command {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetInterspersed(false)

	seg := addSegmentFlags(fs)

	return &Command{
		Flags: fs,
		Usage: "inspect [flags] [command...]",
		Short: "Inspect a live coverage segment",
		Long: `Attach to an existing coverage segment and read commands from stdin
(stat, test, hit, bits, dump, help, exit). With a command given as
arguments, run only that command. The segment is never removed.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			cfg, err := a.loadConfig(seg.overrides())
			if err != nil {
				return err
			}

			segment, err := a.opener(cfg).Attach(cfg.Name, cfg.Size)
			if err != nil {
				return err
			}

			defer func() { _ = segment.Close() }()

			a.logger(o).WithField("segment", segment.Path()).Debug("attached")

			sh, err := inspect.New(cfg.Name, segment.Bytes(), cfg.Policy, o.Out())
			if err != nil {
				return err
			}

			sh.SetWorkDir(cfg.EffectiveCwd)

			if len(args) > 0 {
				err = sh.Exec(strings.Join(args, " "))
				if errors.Is(err, inspect.ErrExit) {
					return nil
				}

				return err
			}

			return repl(o, sh)
		},
	}
}
