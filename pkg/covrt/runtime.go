package covrt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/fs"
	"github.com/calvinalkan/covmap/pkg/shm"
)

// Environment variables read on mount.
const (
	EnvName   = "LLVM_COVMAP_SHM_NAME"
	EnvSize   = "LLVM_COVMAP_SHM_SIZE"
	EnvPolicy = "LLVM_COVMAP_INDEX_POLICY"
	EnvDir    = "LLVM_COVMAP_SHM_DIR"
)

// DefaultSize is the segment size used when EnvSize is absent or invalid.
const DefaultSize = 1 << 20

// abortStatus is the exit status of a process killed by SIGABRT in a shell.
const abortStatus = 134

// State is the mount state of a [Runtime].
type State int32

const (
	// StateUnmounted means no hit has been recorded yet.
	StateUnmounted State = iota

	// StateMounting is held while the first hit opens the segment.
	StateMounting

	// StateMounted means hits set bits in the shared segment.
	StateMounted

	// StateDisabled is terminal: hits are ignored.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateDisabled:
		return "disabled"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Options configures a [Runtime]. Nil fields use the process defaults.
type Options struct {
	// Getenv reads configuration. Default: [os.Getenv].
	Getenv func(key string) string

	// Open creates or opens the segment. Default: [shm.Opener.Open] in the
	// directory named by EnvDir.
	Open func(name string, size int) (*shm.Segment, error)

	// Fatal is called when mounting fails after opting in. The default prints
	// a diagnostic to stderr and terminates the process. If Fatal returns,
	// the runtime is disabled.
	Fatal func(err error)
}

// Runtime is the per-process coverage state.
//
// The zero value is not usable; construct with [New]. Most programs use the
// package-level functions, which share one Runtime.
type Runtime struct {
	state atomic.Int32

	// mu serializes the Unmounted to Mounted/Disabled transition and Fini.
	// It is never taken on the mounted fast path.
	mu sync.Mutex

	// Written under mu before state becomes StateMounted, read-only after.
	bits bitmap.Bitmap
	seg  *shm.Segment

	finished bool

	getenv func(string) string
	open   func(string, int) (*shm.Segment, error)
	fatal  func(error)
}

// New returns an unmounted Runtime.
func New(opts Options) *Runtime {
	r := &Runtime{
		getenv: opts.Getenv,
		open:   opts.Open,
		fatal:  opts.Fatal,
	}

	if r.getenv == nil {
		r.getenv = os.Getenv
	}

	if r.open == nil {
		r.open = func(name string, size int) (*shm.Segment, error) {
			return shm.NewOpener(fs.NewReal(), r.getenv(EnvDir)).Open(name, size)
		}
	}

	if r.fatal == nil {
		r.fatal = abort
	}

	return r
}

// State returns the current mount state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// RecordHit marks the function with identity id as executed.
//
// Safe for concurrent use from any goroutine. After the first call it takes
// no lock and does not allocate. Calling it repeatedly for the same id is
// harmless.
func (r *Runtime) RecordHit(id uint64) {
	switch State(r.state.Load()) {
	case StateMounted:
		r.bits.Set(id)

		return
	case StateDisabled:
		return
	case StateUnmounted, StateMounting:
	}

	if r.mount() {
		r.bits.Set(id)
	}
}

// mount performs the one-time transition out of StateUnmounted and reports
// whether the runtime ended up mounted.
func (r *Runtime) mount() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have finished while we waited for the lock.
	if state := State(r.state.Load()); state != StateUnmounted {
		return state == StateMounted
	}

	r.state.Store(int32(StateMounting))

	name := r.getenv(EnvName)
	if name == "" {
		r.state.Store(int32(StateDisabled))

		return false
	}

	size := parseSize(r.getenv(EnvSize))

	policy, err := bitmap.ParsePolicy(r.getenv(EnvPolicy))
	if err != nil {
		policy = bitmap.PolicyModulo
	}

	seg, err := r.open(name, size)
	if err != nil {
		r.state.Store(int32(StateDisabled))
		r.fatal(err)

		return false
	}

	bits, err := bitmap.New(seg.Bytes(), policy)
	if err != nil {
		_ = seg.Close()

		r.state.Store(int32(StateDisabled))
		r.fatal(err)

		return false
	}

	r.seg = seg
	r.bits = bits
	r.state.Store(int32(StateMounted))

	return true
}

// Fini removes the segment name if this runtime mounted one.
//
// The mapping is left in place, so hits recorded after Fini still land in the
// bitmap observed by anyone already attached. Calling Fini before the first
// hit disables the runtime. Only the first call has an effect.
func (r *Runtime) Fini() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil
	}

	r.finished = true

	switch State(r.state.Load()) {
	case StateMounted:
		return r.seg.Unlink()
	case StateUnmounted:
		r.state.Store(int32(StateDisabled))
	case StateMounting, StateDisabled:
	}

	return nil
}

// parseSize returns the size in s, or DefaultSize if s is not a positive
// decimal multiple of 8 that fits in an int.
func parseSize(s string) int {
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil || n == 0 || n%8 != 0 || n > uint64(maxInt) {
		return DefaultSize
	}

	return int(n)
}

const maxInt = int(^uint(0) >> 1)

// diagnostic formats the single line printed before aborting.
func diagnostic(err error) string {
	op := "mount"

	var errno syscall.Errno

	var resErr *shm.ResourceError
	if errors.As(err, &resErr) {
		op = resErr.Op
		errno = resErr.Errno()
	} else {
		_ = errors.As(err, &errno)
	}

	if errno == 0 {
		return fmt.Sprintf("covmap: %s failed: %v", op, err)
	}

	return fmt.Sprintf("covmap: %s failed: %d: %s", op, int(errno), errno.Error())
}

var stderr io.Writer = os.Stderr

func abort(err error) {
	_, _ = fmt.Fprintln(stderr, diagnostic(err))

	os.Exit(abortStatus)
}

var std = New(Options{})

// RecordHit marks the function with identity id as executed in the process
// runtime. This is the entry point called by instrumented code.
func RecordHit(id uint64) {
	std.RecordHit(id)
}

// CurrentState returns the mount state of the process runtime.
func CurrentState() State {
	return std.State()
}

// Fini removes the segment name of the process runtime. Errors are ignored:
// there is nobody left to report them to.
func Fini() {
	_ = std.Fini()
}

// Exit runs [Fini] and terminates the process with code.
func Exit(code int) {
	Fini()
	os.Exit(code)
}
