package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/covmap/internal/config"
)

func (a *app) printConfigCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long: `Display the effective configuration and where each value came from.

Values are resolved from defaults, then ` + config.FileName + ` (or --config),
then LLVM_COVMAP_* environment variables.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			cfg, err := a.loadConfig(config.Overrides{})
			if err != nil {
				return err
			}

			o.Printf("%s", config.Format(cfg))

			return nil
		},
	}
}
