// Package covrt is the coverage runtime linked into an instrumented program.
//
// Instrumentation inserts a call to [RecordHit] at the entry of every covered
// function. The first call mounts the shared coverage bitmap named by the
// environment; later calls set one bit and return.
//
// Coverage collection is opt-in. Without LLVM_COVMAP_SHM_NAME the runtime
// disables itself on the first hit and every later hit is a single branch.
//
//	LLVM_COVMAP_SHM_NAME      segment name (required to enable)
//	LLVM_COVMAP_SHM_SIZE      segment size in bytes, multiple of 8 (default 1 MiB)
//	LLVM_COVMAP_INDEX_POLICY  modulo or mixed (default modulo)
//	LLVM_COVMAP_SHM_DIR       directory backing segment names (default /dev/shm)
//
// Invalid sizes and policies fall back to the defaults. A segment that cannot
// be opened after opting in is fatal: the process prints one diagnostic line
// and terminates, since silently losing coverage would hide a broken setup.
//
// # Teardown
//
// Go has no atexit. Programs call [Fini] before exiting (deferred from main,
// or via [Exit] in place of [os.Exit]). Fini only removes the segment name.
// The mapping and descriptor stay alive until the process ends, so code that
// still runs during shutdown may keep recording hits, and observers that
// already attached keep seeing the bitmap.
//
// # Consistency
//
// Setting a bit is a plain read-modify-write of one byte, shared by every
// goroutine and every process using the segment. Concurrent hits on the same
// byte can lose an update. Coverage is a monotonic "ever executed" signal and
// a lock or atomic on every hit would cost more than the occasional lost bit.
package covrt
