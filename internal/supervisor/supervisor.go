// Package supervisor runs a program against a fresh coverage segment and
// reports the coverage it reached.
//
// The segment is created before the program starts, so the program's runtime
// always finds it on its first hit. The segment is scanned after the program
// terminates and released only after the report has been written.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/covmap/internal/config"
	"github.com/calvinalkan/covmap/internal/report"
	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/covrt"
	"github.com/calvinalkan/covmap/pkg/fs"
	"github.com/calvinalkan/covmap/pkg/shm"
)

// Error variables for supervisor runs.
var (
	// ErrInvalidSize is returned before anything is created.
	ErrInvalidSize = config.ErrInvalidSize

	// ErrNoCommand is returned when Config.Command is empty.
	ErrNoCommand = errors.New("no program to run")
)

// SpawnError reports that the program could not be started.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cannot start %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Config describes one supervised run.
type Config struct {
	// Name and Size of the segment handed to the program.
	Name string
	Size int

	// Policy is passed to the program's runtime and used for the scan.
	Policy bitmap.Policy

	// Command is the program and its arguments.
	Command []string

	// ReportPath, if set, receives a JSON report.
	ReportPath string

	// DumpPath, if set, receives the raw bitmap.
	DumpPath string
}

// Options holds the process environment of a run. Zero values use the
// current process's.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Report receives the human-readable summary. Default: Stdout.
	Report io.Writer

	// Env is the base environment of the program. Default: os.Environ().
	Env []string

	// Opener creates the segment. Default: [shm.DefaultDir].
	Opener *shm.Opener

	// Signals received here while the program runs are forwarded to it.
	// The caller subscribes with signal.Notify; nil forwards nothing.
	Signals <-chan os.Signal

	Logger *logrus.Logger
	Now    func() time.Time
}

// ExitSummary is the outcome of a supervised run.
type ExitSummary struct {
	PID int

	// Exited is set when the program returned normally with ExitCode.
	Exited   bool
	ExitCode int

	// Signaled is set when the program was killed by Signal.
	Signaled bool
	Signal   syscall.Signal

	Sample bitmap.Sample
}

// Run creates the segment, runs the program, waits for it to terminate and
// writes the report. The program's exit status is part of the summary and
// not an error.
//
// Possible errors:
//   - [ErrInvalidSize], [ErrNoCommand]: nothing was created
//   - [*shm.ResourceError]: the segment could not be created
//   - [*SpawnError]: the program could not be started; the segment is released
//   - report or dump file errors, returned together with the summary
func Run(ctx context.Context, cfg Config, opts Options) (ExitSummary, error) {
	err := config.ValidateSize(cfg.Size)
	if err != nil {
		return ExitSummary{}, err
	}

	if len(cfg.Command) == 0 {
		return ExitSummary{}, ErrNoCommand
	}

	opts = opts.withDefaults()
	log := opts.Logger

	seg, err := opts.Opener.Open(cfg.Name, cfg.Size)
	if err != nil {
		return ExitSummary{}, err
	}

	log.WithFields(logrus.Fields{
		"segment": seg.Path(),
		"size":    seg.Size(),
	}).Debug("created segment")

	summary, runErr := supervise(ctx, cfg, opts, seg)

	closeErr := seg.Close()
	if closeErr != nil {
		log.WithError(closeErr).Warn("releasing segment")
	}

	return summary, errors.Join(runErr, closeErr)
}

func supervise(ctx context.Context, cfg Config, opts Options, seg *shm.Segment) (ExitSummary, error) {
	bits, err := bitmap.New(seg.Bytes(), cfg.Policy)
	if err != nil {
		return ExitSummary{}, err
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.Env = childEnv(opts.Env, cfg, opts.Opener.Dir())

	err = cmd.Start()
	if err != nil {
		return ExitSummary{}, &SpawnError{Program: cfg.Command[0], Err: err}
	}

	log := opts.Logger.WithField("pid", cmd.Process.Pid)
	log.WithField("argv", cfg.Command).Debug("started program")

	waitErr := wait(cmd, opts.Signals, log)
	if cmd.ProcessState == nil {
		return ExitSummary{}, fmt.Errorf("waiting for %s: %w", cfg.Command[0], waitErr)
	}

	summary := summarize(cmd.ProcessState)
	summary.Sample = bits.Scan(opts.Now())

	log.WithFields(logrus.Fields{
		"exited":   summary.Exited,
		"code":     summary.ExitCode,
		"signaled": summary.Signaled,
		"signal":   int(summary.Signal),
	}).Debug("program terminated")

	err = WriteReport(opts.Report, summary)
	if err != nil {
		return summary, err
	}

	var fileErrs []error

	if cfg.ReportPath != "" {
		fileErrs = append(fileErrs, WriteJSONReport(cfg.ReportPath, cfg.Name, summary))
	}

	if cfg.DumpPath != "" {
		fileErrs = append(fileErrs, report.WriteDump(cfg.DumpPath, seg.Bytes()))
	}

	return summary, errors.Join(fileErrs...)
}

// childEnv appends the segment variables to base. Later entries win, so the
// values set here override any inherited from base.
func childEnv(base []string, cfg Config, dir string) []string {
	env := slices.Clip(slices.Clone(base))

	env = append(env,
		covrt.EnvName+"="+cfg.Name,
		covrt.EnvSize+"="+strconv.Itoa(cfg.Size),
		covrt.EnvPolicy+"="+cfg.Policy.String(),
	)

	if dir != shm.DefaultDir {
		env = append(env, covrt.EnvDir+"="+dir)
	}

	return env
}

// wait blocks until the program terminates, forwarding signals meanwhile.
func wait(cmd *exec.Cmd, signals <-chan os.Signal, log *logrus.Entry) error {
	var (
		g       errgroup.Group
		waitErr error
	)

	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)

		waitErr = cmd.Wait()

		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			case sig, ok := <-signals:
				if !ok {
					signals = nil

					continue
				}

				log.WithField("signal", sig).Debug("forwarding signal")

				err := cmd.Process.Signal(sig)
				if err != nil && !errors.Is(err, os.ErrProcessDone) {
					log.WithError(err).Warn("forwarding signal")
				}
			}
		}
	})

	_ = g.Wait()

	return waitErr
}

func summarize(state *os.ProcessState) ExitSummary {
	summary := ExitSummary{PID: state.Pid()}

	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		summary.Exited = true
		summary.ExitCode = state.ExitCode()

		return summary
	}

	switch {
	case status.Exited():
		summary.Exited = true
		summary.ExitCode = status.ExitStatus()
	case status.Signaled():
		summary.Signaled = true
		summary.Signal = status.Signal()
	}

	return summary
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}

	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}

	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}

	if o.Report == nil {
		o.Report = o.Stdout
	}

	if o.Env == nil {
		o.Env = os.Environ()
	}

	if o.Opener == nil {
		o.Opener = shm.NewOpener(fs.NewReal(), shm.DefaultDir)
	}

	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}
