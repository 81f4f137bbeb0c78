// Package inspect interprets the commands of the interactive segment
// inspector. Line editing lives with the caller; a Shell only executes lines.
package inspect

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/covmap/internal/report"
	"github.com/calvinalkan/covmap/pkg/bitmap"
)

// ErrExit is returned by [Shell.Exec] for exit, quit and q.
var ErrExit = errors.New("exit")

// ErrUsage indicates a command called with the wrong arguments.
var ErrUsage = errors.New("usage")

// DefaultBitsLimit caps the output of "bits" without an argument.
const DefaultBitsLimit = 64

// commands lists every command word, for help and completion.
var commands = []string{"stat", "test", "hit", "bits", "dump", "help", "exit", "quit", "q"}

// Shell executes inspector commands against one mapped bitmap.
type Shell struct {
	name string
	data []byte
	bits bitmap.Bitmap
	out  io.Writer
	now  func() time.Time

	workDir string
}

// New returns a Shell over data, the mapped bytes of the segment called name.
func New(name string, data []byte, policy bitmap.Policy, out io.Writer) (*Shell, error) {
	bits, err := bitmap.New(data, policy)
	if err != nil {
		return nil, err
	}

	return &Shell{name: name, data: data, bits: bits, out: out, now: time.Now}, nil
}

// SetWorkDir sets the directory relative dump paths resolve against.
// Without it they resolve against the process working directory.
func (s *Shell) SetWorkDir(dir string) {
	s.workDir = dir
}

// Banner returns the greeting printed when an interactive session starts.
func (s *Shell) Banner() string {
	return fmt.Sprintf("covmap inspect - segment %s (%d bytes, %d bits, policy=%s)\nType 'help' for available commands.",
		s.name, len(s.data), s.bits.TotalBits(), s.bits.Policy())
}

// Exec runs one command line. Unknown commands print a hint and are not an
// error. Returns [ErrExit] when the session should end.
func (s *Shell) Exec(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return ErrExit
	case "help", "?":
		s.printHelp()

		return nil
	case "stat":
		return s.cmdStat()
	case "test":
		return s.cmdTest(args)
	case "hit":
		return s.cmdHit(args)
	case "bits":
		return s.cmdBits(args)
	case "dump":
		return s.cmdDump(args)
	default:
		s.printf("Unknown command: %s (type 'help' for commands)\n", cmd)

		return nil
	}
}

// Complete returns the command words starting with line.
func (s *Shell) Complete(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (s *Shell) printHelp() {
	s.printf("Commands:\n")
	s.printf("  stat              Show segment info and coverage\n")
	s.printf("  test <id>         Show whether the bit for id is set\n")
	s.printf("  hit <id>          Record a hit for id\n")
	s.printf("  bits [limit]      List set bit indices (default %d, 0 for all)\n", DefaultBitsLimit)
	s.printf("  dump <path>       Write the raw bitmap to a file\n")
	s.printf("  help              Show this help\n")
	s.printf("  exit / quit / q   Exit\n")
	s.printf("\n")
	s.printf("Ids: decimal, 0x hex, or a function name (hashed to an identity).\n")
}

func (s *Shell) cmdStat() error {
	sample := s.bits.Scan(s.now())

	s.printf("segment=%s size=%d policy=%s\n", s.name, len(s.data), s.bits.Policy())
	s.printf("%s\n", report.CoverageLine(sample))

	return nil
}

func (s *Shell) cmdTest(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: test <id>", ErrUsage)
	}

	id := ParseID(args[0])
	s.printBit(id)

	return nil
}

func (s *Shell) cmdHit(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: hit <id>", ErrUsage)
	}

	id := ParseID(args[0])
	s.bits.Set(id)
	s.printBit(id)

	return nil
}

func (s *Shell) printBit(id uint64) {
	state := "clear"
	if s.bits.Test(id) {
		state = "set"
	}

	s.printf("id %d -> bit %d: %s\n", id, s.bits.Index(id), state)
}

func (s *Shell) cmdBits(args []string) error {
	limit := DefaultBitsLimit

	if len(args) > 1 {
		return fmt.Errorf("%w: bits [limit]", ErrUsage)
	}

	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: bits [limit]: invalid limit %q", ErrUsage, args[0])
		}

		limit = n
	}

	indices := s.bits.Indices(limit)
	for _, idx := range indices {
		s.printf("%d\n", idx)
	}

	total := s.bits.Count()
	if rest := total - uint64(len(indices)); rest > 0 {
		s.printf("... %d more\n", rest)
	}

	s.printf("(%d set)\n", total)

	return nil
}

func (s *Shell) cmdDump(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: dump <path>", ErrUsage)
	}

	path := args[0]
	if s.workDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.workDir, path)
	}

	err := report.WriteDump(path, s.data)
	if err != nil {
		return err
	}

	s.printf("wrote %d bytes to %s\n", len(s.data), path)

	return nil
}

func (s *Shell) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

// ParseID parses a decimal or 0x-prefixed identity. Anything else is taken as
// a function name and hashed with [bitmap.IdentityForName].
func ParseID(s string) uint64 {
	id, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return bitmap.IdentityForName(s)
	}

	return id
}
