package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/covmap/pkg/fs"
)

// DefaultDir is the directory backing shm_open(3) names on Linux.
const DefaultDir = "/dev/shm"

// segmentPerm grants read/write to owner and group, like shm_open with
// S_IRUSR|S_IWUSR|S_IRGRP|S_IWGRP.
const segmentPerm = 0o660

// Opener creates and attaches segments in one directory.
//
// The zero value is not usable; construct with [NewOpener]. An Opener has no
// mutable state and is safe for concurrent use.
type Opener struct {
	fs  fs.FS
	dir string

	// Syscalls, swappable in tests to exercise failure paths.
	ftruncate func(fd int, length int64) error
	mmap      func(fd int, offset int64, length int, prot int, flags int) ([]byte, error)
	munmap    func(b []byte) error
}

// NewOpener returns an Opener that places segments in dir using fsys.
// An empty dir means [DefaultDir]. Panics if fsys is nil.
func NewOpener(fsys fs.FS, dir string) *Opener {
	if fsys == nil {
		panic("fs is nil")
	}

	if dir == "" {
		dir = DefaultDir
	}

	return &Opener{
		fs:        fsys,
		dir:       dir,
		ftruncate: unix.Ftruncate,
		mmap:      unix.Mmap,
		munmap:    unix.Munmap,
	}
}

// Dir returns the directory segments are created in.
func (o *Opener) Dir() string {
	return o.dir
}

var std = NewOpener(fs.NewReal(), DefaultDir)

// Open creates or opens the named segment in [DefaultDir]. See [Opener.Open].
func Open(name string, size int) (*Segment, error) {
	return std.Open(name, size)
}

// Attach opens the named segment in [DefaultDir] without taking ownership.
// See [Opener.Attach].
func Attach(name string, size int) (*Segment, error) {
	return std.Attach(name, size)
}

// Open creates the named segment if it does not exist, sizes it to exactly
// size bytes and maps it read/write, shared across processes.
//
// The returned segment owns the descriptor, the mapping and the name: Close
// releases all three. If resizing or mapping fails, the descriptor is closed
// and the name is removed before the error is returned.
//
// Possible errors:
//   - [ErrInvalidName], [ErrInvalidSize]: rejected before touching the OS
//   - [*ResourceError]: create, resize or map failed
func (o *Opener) Open(name string, size int) (*Segment, error) {
	return o.open(name, size, true)
}

// Attach opens the named segment like [Opener.Open] but never removes the
// name, neither on failure nor on Close.
//
// The segment is created if it does not exist yet, so an observer may start
// before the process that records into it. An existing segment is only ever
// grown, never shrunk, so attaching with a smaller size than the creator used
// does not truncate the creator's data.
func (o *Opener) Attach(name string, size int) (*Segment, error) {
	return o.open(name, size, false)
}

func (o *Opener) open(name string, size int, owner bool) (*Segment, error) {
	base, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	if size <= 0 || size%8 != 0 {
		return nil, fmt.Errorf("size %d must be a positive multiple of 8: %w", size, ErrInvalidSize)
	}

	path := filepath.Join(o.dir, base)

	file, err := o.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, segmentPerm)
	if err != nil {
		return nil, &ResourceError{Op: OpCreate, Name: name, Err: err}
	}

	// abandon undoes the create step after a later step failed.
	abandon := func() {
		_ = file.Close()

		if owner {
			_ = o.fs.Remove(path)
		}
	}

	fd := int(file.Fd())

	resizeErr := o.resize(file, fd, size, owner)
	if resizeErr != nil {
		abandon()

		return nil, &ResourceError{Op: OpResize, Name: name, Err: resizeErr}
	}

	data, mapErr := o.mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if mapErr != nil {
		abandon()

		return nil, &ResourceError{Op: OpMap, Name: name, Err: mapErr}
	}

	return &Segment{
		name:   name,
		path:   path,
		size:   size,
		data:   data,
		file:   file,
		owner:  owner,
		fs:     o.fs,
		munmap: o.munmap,
	}, nil
}

// resize sets the backing object to size bytes. Owners always truncate to the
// exact size (idempotent when a previous run left the same size behind);
// observers only grow.
func (o *Opener) resize(file fs.File, fd int, size int, owner bool) error {
	if !owner {
		info, err := file.Stat()
		if err != nil {
			return err
		}

		if info.Size() >= int64(size) {
			return nil
		}
	}

	return o.ftruncate(fd, int64(size))
}

// cleanName strips the optional leading slash of a shm_open style name.
func cleanName(name string) (string, error) {
	base := strings.TrimPrefix(name, "/")

	if base == "" || base == "." || base == ".." || strings.ContainsRune(base, '/') {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}

	return base, nil
}

// Segment is an open, mapped shared memory segment.
//
// A Segment is bound to a mapping in this process's address space and must not
// be copied; pass *Segment around. All methods are safe for concurrent use,
// but the bytes returned by [Segment.Bytes] are shared memory and carry no
// synchronization of their own.
type Segment struct {
	mu sync.Mutex

	name  string
	path  string
	size  int
	data  []byte
	file  fs.File
	owner bool

	unlinked bool
	closed   bool

	fs     fs.FS
	munmap func(b []byte) error
}

// Name returns the segment name as passed to Open or Attach.
func (s *Segment) Name() string {
	return s.name
}

// Path returns the backing file path.
func (s *Segment) Path() string {
	return s.path
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	return s.size
}

// Owner reports whether Close removes the name.
func (s *Segment) Owner() bool {
	return s.owner
}

// Bytes returns the mapped region. It is valid until [Segment.Close];
// [Segment.Unlink] does not invalidate it.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Unlink removes the segment name so new openers no longer find it.
//
// The mapping and descriptor stay valid. Unlink is idempotent; a name that was
// already removed (for example by another process sharing the segment) is not
// an error.
func (s *Segment) Unlink() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.unlinkLocked()
}

func (s *Segment) unlinkLocked() error {
	if s.unlinked {
		return nil
	}

	s.unlinked = true

	err := s.fs.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unlink %q: %w", s.name, err)
	}

	return nil
}

// Close unmaps the region and closes the descriptor. Owning segments also
// remove the name.
//
// Every step is attempted even if an earlier one fails; failures are joined
// into the returned error. Close is idempotent - subsequent calls return nil.
// After Close, the slice returned by [Segment.Bytes] must not be used.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	var unmapErr, closeErr, unlinkErr error

	if s.data != nil {
		if err := s.munmap(s.data); err != nil {
			unmapErr = fmt.Errorf("unmap %q: %w", s.name, err)
		}

		s.data = nil
	}

	if err := s.file.Close(); err != nil {
		closeErr = fmt.Errorf("close %q: %w", s.name, err)
	}

	if s.owner {
		unlinkErr = s.unlinkLocked()
	}

	return errors.Join(unmapErr, closeErr, unlinkErr)
}
