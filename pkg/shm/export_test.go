package shm

// Export internal hooks for testing.
// This file is only compiled during tests.

// SetFtruncateForTesting replaces the resize syscall of o.
func SetFtruncateForTesting(o *Opener, fn func(fd int, length int64) error) {
	o.ftruncate = fn
}

// SetMmapForTesting replaces the map syscall of o.
func SetMmapForTesting(o *Opener, fn func(fd int, offset int64, length int, prot int, flags int) ([]byte, error)) {
	o.mmap = fn
}

// SetMunmapForTesting replaces the unmap syscall of o. Segments opened
// afterwards use fn in Close.
func SetMunmapForTesting(o *Opener, fn func(b []byte) error) {
	o.munmap = fn
}
