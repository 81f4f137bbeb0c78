package fs

import (
	"errors"
	"os"
	"sync"
)

// Op names an [FS] operation for fault injection.
type Op string

// Operations that [Injected] can fail.
const (
	OpOpenFile Op = "openfile"
	OpReadFile Op = "readfile"
	OpStat     Op = "stat"
	OpRemove   Op = "remove"
)

// InjectedError marks an error as intentionally injected by [Injected].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op  Op
	Err error
}

// Error returns the underlying error's message.
func (e *InjectedError) Error() string {
	return string(e.Op) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Injected].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Injected wraps another [FS] and fails selected operations on demand.
//
// Every call is counted, whether it fails or not, so tests can assert that a
// cleanup step (for example the name removal after a failed mmap) actually ran.
//
// Injected is safe for concurrent use.
type Injected struct {
	fs FS

	mu     sync.Mutex
	faults map[Op]error
	calls  map[Op][]string
}

// NewInjected returns an [Injected] that delegates to fs. Panics if fs is nil.
func NewInjected(fs FS) *Injected {
	if fs == nil {
		panic("fs is nil")
	}

	return &Injected{
		fs:     fs,
		faults: make(map[Op]error),
		calls:  make(map[Op][]string),
	}
}

// Fail makes every subsequent call of op return err. A nil err clears the fault.
func (i *Injected) Fail(op Op, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err == nil {
		delete(i.faults, op)

		return
	}

	i.faults[op] = err
}

// Calls returns the paths op was called with, in call order.
func (i *Injected) Calls(op Op) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	return append([]string(nil), i.calls[op]...)
}

func (i *Injected) record(op Op, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.calls[op] = append(i.calls[op], path)

	if err, ok := i.faults[op]; ok {
		return &InjectedError{Op: op, Err: err}
	}

	return nil
}

// OpenFile records the call and delegates unless a fault is set.
func (i *Injected) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := i.record(OpOpenFile, path); err != nil {
		return nil, err
	}

	return i.fs.OpenFile(path, flag, perm)
}

// ReadFile records the call and delegates unless a fault is set.
func (i *Injected) ReadFile(path string) ([]byte, error) {
	if err := i.record(OpReadFile, path); err != nil {
		return nil, err
	}

	return i.fs.ReadFile(path)
}

// Stat records the call and delegates unless a fault is set.
func (i *Injected) Stat(path string) (os.FileInfo, error) {
	if err := i.record(OpStat, path); err != nil {
		return nil, err
	}

	return i.fs.Stat(path)
}

// Exists delegates through [Injected.Stat] so a Stat fault also fails Exists.
func (i *Injected) Exists(path string) (bool, error) {
	_, err := i.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// Remove records the call and delegates unless a fault is set.
func (i *Injected) Remove(path string) error {
	if err := i.record(OpRemove, path); err != nil {
		return err
	}

	return i.fs.Remove(path)
}

// Compile-time interface check.
var _ FS = (*Injected)(nil)
