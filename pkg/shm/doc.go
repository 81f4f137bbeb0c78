// Package shm provides named POSIX-style shared memory segments.
//
// A segment is a file under a shared memory filesystem (/dev/shm by default)
// that is sized with ftruncate and mapped MAP_SHARED into the process. Any
// process that opens the same name with the same size sees the same bytes.
//
// # Ownership
//
// [Open] returns an owning segment: [Segment.Close] unmaps the region, closes
// the descriptor and removes the name. [Attach] returns a non-owning segment
// that never removes the name, for observers that do not control the
// segment's lifecycle.
//
// # Two-phase release
//
// Release is split in two:
//
//   - [Segment.Unlink] removes the name. New openers no longer find the
//     segment, but existing mappings in this and other processes stay valid.
//   - [Segment.Close] releases local resources (mapping and descriptor), and
//     for owning segments also removes the name.
//
// Code that runs while the process is exiting should only call Unlink: other
// exit-time code may still read the mapping, and the kernel reclaims the
// mapping and descriptor when the process terminates.
//
// # Errors
//
// OS failures while opening are returned as [*ResourceError], naming the
// failing step ("create", "resize" or "map") and carrying the errno.
package shm
