package cli

import (
	"context"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/covmap/internal/config"
	"github.com/calvinalkan/covmap/internal/watcher"
)

func (a *app) watchCmd() *Command {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)

	seg := addSegmentFlags(fs)
	interval := fs.IntP("interval", "t", int(config.DefaultInterval.Seconds()), "sampling interval in `seconds`")

	return &Command{
		Flags: fs,
		Usage: "watch [flags]",
		Short: "Sample coverage of a running program as CSV",
		Long: `Attach to an existing coverage segment and print one CSV record
(timestamp,covered,total,ratio) per interval until interrupted.
The segment is never removed.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			overrides := seg.overrides()
			if fs.Changed("interval") {
				overrides.Interval = interval
			}

			cfg, err := a.loadConfig(overrides)
			if err != nil {
				return err
			}

			log := a.logger(o)

			return watcher.Watch(ctx, watcher.Config{
				Name:     cfg.Name,
				Size:     cfg.Size,
				Interval: cfg.Interval,
				Policy:   cfg.Policy,
			}, watcher.Options{
				Out:        o.Out(),
				Opener:     a.opener(cfg),
				Interrupts: a.sigCh,
				// signal.Notify delivers to every subscriber, so there is no
				// earlier handler to call here beyond recording the signal.
				Previous: func(sig os.Signal) {
					log.WithField("signal", sig).Debug("signal received")
				},
				Logger: log,
			})
		},
	}
}
