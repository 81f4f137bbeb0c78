// Package watcher samples the coverage of a live segment at a fixed interval
// and writes the samples as CSV.
//
// The watcher only attaches. It never removes the segment name, so it can
// observe a program whether or not the process that created the segment is
// still around.
package watcher

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/covmap/internal/config"
	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/fs"
	"github.com/calvinalkan/covmap/pkg/shm"
)

// Error variables for watch configuration.
var (
	ErrInvalidSize     = config.ErrInvalidSize
	ErrInvalidInterval = config.ErrInvalidInterval
)

// Header is the first CSV record.
var Header = []string{"timestamp", "covered", "total", "ratio"}

// Config describes what to watch.
type Config struct {
	Name     string
	Size     int
	Interval time.Duration
	Policy   bitmap.Policy
}

// Options holds the environment of a watch. Zero values use real time and
// the default segment directory.
type Options struct {
	// Out receives the CSV. Default: os.Stdout.
	Out io.Writer

	Opener *shm.Opener

	// Interrupts delivers signals subscribed by the caller. SIGINT and SIGTERM
	// stop the watch; any other signal only wakes the sleep early, which then
	// resumes for the remaining time.
	Interrupts <-chan os.Signal

	// Previous is the handler that was in place before the watcher took over.
	// It is called with every received signal after the watcher has recorded
	// it, so the caller's own shutdown behavior still runs.
	Previous func(os.Signal)

	Now   func() time.Time
	After func(time.Duration) <-chan time.Time

	Logger *logrus.Logger
}

// Watch attaches to the segment and writes one sample per interval until an
// interrupt arrives or ctx is done. Neither is an error. An interrupt during
// a sleep ends the watch without sampling the partial interval.
func Watch(ctx context.Context, cfg Config, opts Options) error {
	err := config.ValidateSize(cfg.Size)
	if err != nil {
		return err
	}

	if cfg.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, cfg.Interval)
	}

	opts = opts.withDefaults()

	seg, err := opts.Opener.Attach(cfg.Name, cfg.Size)
	if err != nil {
		return err
	}

	defer func() { _ = seg.Close() }()

	bits, err := bitmap.New(seg.Bytes(), cfg.Policy)
	if err != nil {
		return err
	}

	opts.Logger.WithFields(logrus.Fields{
		"segment":  seg.Path(),
		"interval": cfg.Interval,
	}).Debug("watching")

	w := csv.NewWriter(opts.Out)

	err = writeRecord(w, Header)
	if err != nil {
		return err
	}

	for {
		stop := sleep(ctx, cfg.Interval, opts)
		if stop {
			opts.Logger.Debug("watch stopped")

			return nil
		}

		err = writeRecord(w, Record(bits.Scan(opts.Now())))
		if err != nil {
			return err
		}
	}
}

// sleep waits for d and reports whether the watch should stop instead of
// taking a sample. A premature wake resumes for the time still remaining.
func sleep(ctx context.Context, d time.Duration, opts Options) bool {
	remaining := d

	for remaining > 0 {
		start := opts.Now()

		select {
		case <-opts.After(remaining):
			return false
		case <-ctx.Done():
			return true
		case sig := <-opts.Interrupts:
			stop := isStop(sig)

			opts.Logger.WithField("signal", sig).Debug("woken by signal")

			if opts.Previous != nil {
				opts.Previous(sig)
			}

			if stop {
				return true
			}

			remaining -= opts.Now().Sub(start)
		}
	}

	return false
}

func isStop(sig os.Signal) bool {
	return sig == os.Interrupt || sig == syscall.SIGINT || sig == syscall.SIGTERM
}

// Record formats s as a CSV record.
func Record(s bitmap.Sample) []string {
	return []string{
		strconv.FormatInt(s.Timestamp.Unix(), 10),
		strconv.FormatUint(s.Covered, 10),
		strconv.FormatUint(s.Total, 10),
		strconv.FormatFloat(s.Ratio, 'g', 6, 64),
	}
}

func writeRecord(w *csv.Writer, record []string) error {
	err := w.Write(record)
	if err != nil {
		return fmt.Errorf("writing sample: %w", err)
	}

	w.Flush()

	err = w.Error()
	if err != nil {
		return fmt.Errorf("writing sample: %w", err)
	}

	return nil
}

func (o Options) withDefaults() Options {
	if o.Out == nil {
		o.Out = os.Stdout
	}

	if o.Opener == nil {
		o.Opener = shm.NewOpener(fs.NewReal(), shm.DefaultDir)
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.After == nil {
		o.After = time.After
	}

	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}

	return o
}
