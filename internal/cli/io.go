package cli

import (
	"fmt"
	"io"
)

// IO bundles the streams of one invocation.
type IO struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// NewIO creates a new IO instance.
func NewIO(in io.Reader, out, errOut io.Writer) *IO {
	return &IO{in: in, out: out, errOut: errOut}
}

// Err returns an IO whose stdout is this IO's stderr. Used to print help
// after a usage error.
func (o *IO) Err() *IO {
	return &IO{in: o.in, out: o.errOut, errOut: o.errOut}
}

// In returns stdin.
func (o *IO) In() io.Reader {
	return o.in
}

// Out returns stdout.
func (o *IO) Out() io.Writer {
	return o.out
}

// ErrOut returns stderr.
func (o *IO) ErrOut() io.Writer {
	return o.errOut
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}
