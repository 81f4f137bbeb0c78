package covrt_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/covrt"
	"github.com/calvinalkan/covmap/pkg/fs"
	"github.com/calvinalkan/covmap/pkg/shm"
)

// env is a concurrency-safe fake environment.
type env struct {
	mu   sync.Mutex
	vars map[string]string
}

func newEnv(kv ...string) *env {
	e := &env{vars: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		e.vars[kv[i]] = kv[i+1]
	}

	return e
}

func (e *env) Getenv(key string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.vars[key]
}

func (e *env) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vars[key] = value
}

type harness struct {
	rt     *covrt.Runtime
	opener *shm.Opener
	opens  atomic.Int32
	fatals []error
}

func newHarness(t *testing.T, e *env) *harness {
	t.Helper()

	h := &harness{opener: shm.NewOpener(fs.NewReal(), t.TempDir())}
	h.rt = covrt.New(covrt.Options{
		Getenv: e.Getenv,
		Open: func(name string, size int) (*shm.Segment, error) {
			h.opens.Add(1)

			return h.opener.Open(name, size)
		},
		Fatal: func(err error) {
			h.fatals = append(h.fatals, err)
		},
	})

	t.Cleanup(func() { _ = h.rt.Fini() })

	return h
}

// observe attaches to the segment like a watcher would.
func (h *harness) observe(t *testing.T, name string, size int, policy bitmap.Policy) bitmap.Bitmap {
	t.Helper()

	seg, err := h.opener.Attach(name, size)
	require.NoError(t, err)

	t.Cleanup(func() { _ = seg.Close() })

	bm, err := bitmap.New(seg.Bytes(), policy)
	require.NoError(t, err)

	return bm
}

func Test_RecordHit_Disables_When_Name_Is_Absent_And_Stays_Disabled(t *testing.T) {
	t.Parallel()

	e := newEnv()
	h := newHarness(t, e)

	assert.Equal(t, covrt.StateUnmounted, h.rt.State())

	h.rt.RecordHit(1)
	assert.Equal(t, covrt.StateDisabled, h.rt.State())

	e.Set(covrt.EnvName, "late")
	h.rt.RecordHit(2)

	assert.Equal(t, covrt.StateDisabled, h.rt.State())
	assert.Zero(t, h.opens.Load(), "a disabled runtime must never open a segment")
	assert.Empty(t, h.fatals)
}

func Test_RecordHit_Mounts_And_Sets_Bits_Visible_To_Observers(t *testing.T) {
	t.Parallel()

	name := "cov-" + uuid.NewString()
	h := newHarness(t, newEnv(covrt.EnvName, name, covrt.EnvSize, "64"))

	h.rt.RecordHit(3)
	h.rt.RecordHit(3)
	h.rt.RecordHit(1000003)

	require.Equal(t, covrt.StateMounted, h.rt.State())
	assert.Equal(t, int32(1), h.opens.Load())

	bm := h.observe(t, name, 64, bitmap.PolicyModulo)

	assert.Equal(t, uint64(512), bm.TotalBits())
	assert.True(t, bm.TestIndex(3))
	assert.True(t, bm.TestIndex(1000003%512))
	assert.Equal(t, uint64(2), bm.Count())
}

func Test_RecordHit_Honors_Mixed_Policy(t *testing.T) {
	t.Parallel()

	name := "cov-" + uuid.NewString()
	h := newHarness(t, newEnv(
		covrt.EnvName, name,
		covrt.EnvSize, "64",
		covrt.EnvPolicy, "mixed",
	))

	h.rt.RecordHit(42)

	bm := h.observe(t, name, 64, bitmap.PolicyMixed)
	assert.True(t, bm.TestIndex(bitmap.Mix(42)%512))
	assert.Equal(t, uint64(1), bm.Count())
}

func Test_RecordHit_Falls_Back_To_Defaults_On_Invalid_Configuration(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		size string
	}{
		{name: "absent", size: ""},
		{name: "zero", size: "0"},
		{name: "not multiple of 8", size: "12"},
		{name: "negative", size: "-8"},
		{name: "garbage", size: "1MiB"},
	} {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			segName := "cov-" + uuid.NewString()
			h := newHarness(t, newEnv(
				covrt.EnvName, segName,
				covrt.EnvSize, tt.size,
				covrt.EnvPolicy, "bogus",
			))

			h.rt.RecordHit(7)
			require.Equal(t, covrt.StateMounted, h.rt.State())
			assert.Empty(t, h.fatals)

			info, err := os.Stat(filepath.Join(h.opener.Dir(), segName))
			require.NoError(t, err)
			assert.Equal(t, int64(covrt.DefaultSize), info.Size())

			bm := h.observe(t, segName, covrt.DefaultSize, bitmap.PolicyModulo)
			assert.True(t, bm.TestIndex(7), "unknown policy falls back to modulo")
		})
	}
}

func Test_RecordHit_Reports_Open_Failure_Once_And_Disables(t *testing.T) {
	t.Parallel()

	var fatals []error

	var opens int

	openErr := &shm.ResourceError{Op: shm.OpMap, Name: "cov", Err: syscall.ENOMEM}

	rt := covrt.New(covrt.Options{
		Getenv: newEnv(covrt.EnvName, "cov").Getenv,
		Open: func(string, int) (*shm.Segment, error) {
			opens++

			return nil, openErr
		},
		Fatal: func(err error) { fatals = append(fatals, err) },
	})

	rt.RecordHit(1)
	rt.RecordHit(2)

	assert.Equal(t, covrt.StateDisabled, rt.State())
	assert.Equal(t, 1, opens)
	require.Len(t, fatals, 1)
	require.ErrorIs(t, fatals[0], syscall.ENOMEM)
}

// Many goroutines racing on the first hit must mount exactly once and every
// hit must land. Identities are spaced 8 apart so each goroutine writes its
// own byte.
func Test_RecordHit_Concurrent_First_Use_Mounts_Once(t *testing.T) {
	t.Parallel()

	const workers = 32

	name := "cov-" + uuid.NewString()
	h := newHarness(t, newEnv(covrt.EnvName, name, covrt.EnvSize, "64"))

	start := make(chan struct{})

	var g errgroup.Group

	for i := 0; i < workers; i++ {
		i := i

		g.Go(func() error {
			<-start

			h.rt.RecordHit(uint64(i) * 8)

			return nil
		})
	}

	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), h.opens.Load())
	assert.Equal(t, covrt.StateMounted, h.rt.State())

	bm := h.observe(t, name, 64, bitmap.PolicyModulo)
	assert.Equal(t, uint64(workers), bm.Count())
}

func Test_Fini_Removes_Name_But_Keeps_Recording(t *testing.T) {
	t.Parallel()

	name := "cov-" + uuid.NewString()
	h := newHarness(t, newEnv(covrt.EnvName, name, covrt.EnvSize, "64"))

	h.rt.RecordHit(1)

	bm := h.observe(t, name, 64, bitmap.PolicyModulo)

	require.NoError(t, h.rt.Fini())

	_, err := os.Stat(filepath.Join(h.opener.Dir(), name))
	require.ErrorIs(t, err, os.ErrNotExist, "Fini must remove the name")

	// Late hits, as from code running during shutdown, still land.
	h.rt.RecordHit(2)

	assert.Equal(t, covrt.StateMounted, h.rt.State())
	assert.True(t, bm.TestIndex(1))
	assert.True(t, bm.TestIndex(2))

	require.NoError(t, h.rt.Fini(), "second Fini is a no-op")
}

func Test_Fini_Before_First_Hit_Disables(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newEnv(covrt.EnvName, "cov-"+uuid.NewString()))

	require.NoError(t, h.rt.Fini())
	h.rt.RecordHit(1)

	assert.Equal(t, covrt.StateDisabled, h.rt.State())
	assert.Zero(t, h.opens.Load())
}

func Test_ParseSize(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]int{
		"":                     covrt.DefaultSize,
		"8":                    8,
		"64":                   64,
		"1048576":              1048576,
		"0":                    covrt.DefaultSize,
		"7":                    covrt.DefaultSize,
		"+8":                   covrt.DefaultSize,
		" 8":                   covrt.DefaultSize,
		"0x10":                 covrt.DefaultSize,
		"99999999999999999999": covrt.DefaultSize,
	} {
		assert.Equal(t, want, covrt.ParseSize(in), "input %q", in)
	}
}

func Test_Diagnostic_Names_Operation_And_Errno(t *testing.T) {
	t.Parallel()

	msg := covrt.Diagnostic(&shm.ResourceError{Op: shm.OpResize, Name: "cov", Err: syscall.ENOSPC})
	assert.Equal(t, "covmap: resize failed: 28: "+syscall.ENOSPC.Error(), msg)

	msg = covrt.Diagnostic(errors.New("boom"))
	assert.Equal(t, "covmap: mount failed: boom", msg)
}

func Test_State_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unmounted", covrt.StateUnmounted.String())
	assert.Equal(t, "mounted", covrt.StateMounted.String())
	assert.Equal(t, "disabled", covrt.StateDisabled.String())
	assert.Equal(t, "mounting", covrt.StateMounting.String())
}
