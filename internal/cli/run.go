// Package cli implements the covmap command line.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/covmap/internal/config"
	"github.com/calvinalkan/covmap/pkg/fs"
	"github.com/calvinalkan/covmap/pkg/shm"
)

const programName = "covmap"

// aliases maps a binary name to the command it runs, so the standalone tools
// can be the same binary under another name.
var aliases = map[string]string{
	"covmap-shell":   "run",
	"covmap-watcher": "watch",
	"covmap-inspect": "inspect",
}

// app holds the state shared by the commands of one invocation.
type app struct {
	env   map[string]string
	sigCh <-chan os.Signal

	workDir    string
	configPath string
	verbose    bool

	global *flag.FlagSet
}

// Run is the main entry point. Returns exit code.
//
// args[0] selects an alias command when it names one of the standalone tools.
// Signals received on sigCh are forwarded to a supervised program or stop a
// watch; a nil sigCh is valid.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	o := NewIO(in, out, errOut)

	var rest []string

	if len(args) > 0 {
		rest = args[1:]

		if cmd, ok := aliases[filepath.Base(args[0])]; ok {
			rest = append([]string{cmd}, rest...)
		}
	}

	a := &app{env: env, sigCh: sigCh}
	a.global = a.globalFlags()

	top := flag.NewFlagSet(programName, flag.ContinueOnError)
	top.SetOutput(&strings.Builder{})
	top.SetInterspersed(false)
	top.AddFlagSet(a.global)

	err := top.Parse(rest)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			a.printUsage(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		a.printUsage(o.Err())

		return 1
	}

	remaining := top.Args()
	if len(remaining) == 0 {
		a.printUsage(o)

		return 0
	}

	cmd := a.command(remaining[0])
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", remaining[0])
		a.printUsage(o.Err())

		return 1
	}

	// Global flags are accepted after the command name too.
	cmd.Flags.AddFlagSet(a.global)

	return cmd.Run(context.Background(), o, remaining[1:])
}

func (a *app) globalFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("global", flag.ContinueOnError)
	fs.StringVarP(&a.workDir, "cwd", "C", "", "run as if started in `dir`")
	fs.StringVarP(&a.configPath, "config", "c", "", "use config `file` instead of "+config.FileName)
	fs.BoolVarP(&a.verbose, "verbose", "v", false, "log debug diagnostics to stderr")

	return fs
}

func (a *app) commands() []*Command {
	return []*Command{
		a.runCmd(),
		a.watchCmd(),
		a.inspectCmd(),
		a.reportCmd(),
		a.printConfigCmd(),
	}
}

func (a *app) command(name string) *Command {
	idx := slices.IndexFunc(a.commands(), func(c *Command) bool { return c.Name() == name })
	if idx < 0 {
		return nil
	}

	return a.commands()[idx]
}

func (a *app) printUsage(o *IO) {
	o.Println("Usage: covmap [flags] <command> [args]")
	o.Println()
	o.Println("Collects function coverage of programs through a shared memory bitmap.")
	o.Println()
	o.Println("Commands:")

	for _, cmd := range a.commands() {
		o.Println(cmd.HelpLine())
	}

	o.Println()
	o.Println("Flags:")

	var buf strings.Builder

	a.global.SetOutput(&buf)
	a.global.PrintDefaults()
	o.Printf("%s", buf.String())
	o.Println()
	o.Println("Run 'covmap <command> --help' for command flags.")
}

// loadConfig resolves the configuration after flags are parsed, so -C and -c
// given after the command name apply too.
func (a *app) loadConfig(overrides config.Overrides) (config.Config, error) {
	return config.Load(config.LoadInput{
		WorkDirOverride: a.workDir,
		ConfigPath:      a.configPath,
		Env:             a.env,
		Overrides:       overrides,
	})
}

func (a *app) logger(o *IO) *logrus.Logger {
	return newLogger(o.ErrOut(), a.verbose)
}

func (a *app) opener(cfg config.Config) *shm.Opener {
	return shm.NewOpener(fs.NewReal(), cfg.Dir)
}

// environ returns env as a sorted KEY=value list.
func (a *app) environ() []string {
	out := make([]string, 0, len(a.env))
	for k, v := range a.env {
		out = append(out, k+"="+v)
	}

	slices.Sort(out)

	return out
}

// resolvePath makes p absolute relative to the effective working directory.
func resolvePath(cfg config.Config, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(cfg.EffectiveCwd, p)
}

// segmentFlags are the flags naming and sizing a segment.
type segmentFlags struct {
	set    *flag.FlagSet
	name   *string
	size   *int
	policy *string
}

func addSegmentFlags(fs *flag.FlagSet) segmentFlags {
	return segmentFlags{
		set:    fs,
		name:   fs.StringP("name", "p", config.DefaultName, "shared memory segment `name`"),
		size:   fs.IntP("size", "s", config.DefaultSize, "segment size in `bytes`, a multiple of 8"),
		policy: fs.String("policy", "modulo", "identity to bit `policy`: modulo or mixed"),
	}
}

// overrides returns the flags that were given explicitly.
func (s segmentFlags) overrides() config.Overrides {
	var o config.Overrides

	if s.set.Changed("name") {
		o.Name = s.name
	}

	if s.set.Changed("size") {
		o.Size = s.size
	}

	if s.set.Changed("policy") {
		o.Policy = s.policy
	}

	return o
}
