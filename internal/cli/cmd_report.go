package cli

import (
	"context"
	"errors"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/covmap/internal/config"
	"github.com/calvinalkan/covmap/internal/report"
	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/fs"
)

var errDumpRequired = errors.New("dump file required")

func (a *app) reportCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("report", flag.ContinueOnError),
		Usage: "report <file>",
		Short: "Summarize a dumped bitmap",
		Long:  "Print the coverage line of a bitmap written by 'run --dump' or the inspector's dump command.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errDumpRequired
			}

			cfg, err := a.loadConfig(config.Overrides{})
			if err != nil {
				return err
			}

			data, err := report.ReadDump(fs.NewReal(), resolvePath(cfg, args[0]))
			if err != nil {
				return err
			}

			bits, err := bitmap.New(data, cfg.Policy)
			if err != nil {
				return err
			}

			o.Println(report.CoverageLine(bits.Scan(time.Now())))

			return nil
		},
	}
}
