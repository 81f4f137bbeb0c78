package shm

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors returned by segment operations.
var (
	// ErrInvalidName indicates an empty name or a name containing a path separator.
	ErrInvalidName = errors.New("shm: invalid name")

	// ErrInvalidSize indicates a size that is not a positive multiple of 8.
	ErrInvalidSize = errors.New("shm: invalid size")
)

// Steps reported in [ResourceError.Op].
const (
	OpCreate = "create"
	OpResize = "resize"
	OpMap    = "map"
)

// ResourceError reports an OS failure while opening a segment.
type ResourceError struct {
	// Op is the failing step: [OpCreate], [OpResize] or [OpMap].
	Op string

	// Name is the segment name as given to [Open] or [Attach].
	Name string

	// Err is the underlying OS error.
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("shm %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Errno returns the OS error number behind the failure, or 0 if the
// underlying error does not carry one.
func (e *ResourceError) Errno() syscall.Errno {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}

	return 0
}
