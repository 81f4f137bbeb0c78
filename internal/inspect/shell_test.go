package inspect_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/covmap/internal/inspect"
	"github.com/calvinalkan/covmap/internal/report"
	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/fs"
)

func newShell(t *testing.T, size int) (*inspect.Shell, []byte, *bytes.Buffer) {
	t.Helper()

	data := make([]byte, size)

	var out bytes.Buffer

	sh, err := inspect.New("cov", data, bitmap.PolicyModulo, &out)
	require.NoError(t, err)

	return sh, data, &out
}

func exec(t *testing.T, sh *inspect.Shell, out *bytes.Buffer, line string) string {
	t.Helper()

	out.Reset()
	require.NoError(t, sh.Exec(line), "line %q", line)

	return out.String()
}

func Test_Shell_Hit_And_Test_Report_Bit_State(t *testing.T) {
	t.Parallel()

	sh, data, out := newShell(t, 8)

	assert.Equal(t, "id 3 -> bit 3: clear\n", exec(t, sh, out, "test 3"))
	assert.Equal(t, "id 3 -> bit 3: set\n", exec(t, sh, out, "hit 3"))
	assert.Equal(t, "id 67 -> bit 3: set\n", exec(t, sh, out, "test 67"), "67 aliases 3 in 64 bits")
	assert.Equal(t, "id 16 -> bit 16: clear\n", exec(t, sh, out, "TEST 0x10"))

	assert.Equal(t, byte(0x08), data[0], "hit writes through to the segment bytes")
}

func Test_Shell_Accepts_Function_Names_As_Ids(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t, 64)

	id := bitmap.IdentityForName("main.main")
	assert.Equal(t, id, inspect.ParseID("main.main"))

	got := exec(t, sh, out, "hit main.main")
	assert.True(t, strings.HasSuffix(got, ": set\n"), got)
}

func Test_Shell_Stat_Prints_Coverage(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t, 64)
	exec(t, sh, out, "hit 1")
	exec(t, sh, out, "hit 2")
	exec(t, sh, out, "hit 3")

	assert.Equal(t,
		"segment=cov size=64 policy=modulo\nCoverage 3 / 512 (0.5859%)\n",
		exec(t, sh, out, "stat"))
}

func Test_Shell_Bits_Lists_Indices_With_Limit(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t, 8)

	for _, id := range []string{"9", "1", "40"} {
		exec(t, sh, out, "hit "+id)
	}

	assert.Equal(t, "1\n9\n40\n(3 set)\n", exec(t, sh, out, "bits"))
	assert.Equal(t, "1\n... 2 more\n(3 set)\n", exec(t, sh, out, "bits 1"))
	assert.Equal(t, "1\n9\n40\n(3 set)\n", exec(t, sh, out, "bits 0"))
}

func Test_Shell_Dump_Writes_Raw_Bitmap(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t, 16)
	exec(t, sh, out, "hit 100")

	path := filepath.Join(t.TempDir(), "cov.bin")
	assert.Equal(t, "wrote 16 bytes to "+path+"\n", exec(t, sh, out, "dump "+path))

	dump, err := report.ReadDump(fs.NewReal(), path)
	require.NoError(t, err)

	bm, err := bitmap.New(dump, bitmap.PolicyModulo)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100}, bm.Indices(0))
}

func Test_Shell_Usage_Errors_And_Unknown_Commands(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t, 8)

	for _, line := range []string{"test", "hit 1 2", "bits x", "bits -1", "dump"} {
		require.ErrorIs(t, sh.Exec(line), inspect.ErrUsage, "line %q", line)
	}

	assert.Equal(t, "Unknown command: frob (type 'help' for commands)\n", exec(t, sh, out, "frob"))
	assert.Empty(t, exec(t, sh, out, "   "))
	assert.Contains(t, exec(t, sh, out, "help"), "bits [limit]")

	for _, line := range []string{"exit", "quit", "q"} {
		require.ErrorIs(t, sh.Exec(line), inspect.ErrExit)
	}
}

func Test_Shell_Complete(t *testing.T) {
	t.Parallel()

	sh, _, _ := newShell(t, 8)

	assert.Equal(t, []string{"quit", "q"}, sh.Complete("q"))
	assert.Equal(t, []string{"hit", "help"}, sh.Complete("h"))
	assert.Nil(t, sh.Complete("zz"))
}

func Test_Shell_Dump_Resolves_Relative_Path_Against_Work_Dir(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t, 8)
	dir := t.TempDir()
	sh.SetWorkDir(dir)

	exec(t, sh, out, "hit 2")

	want := filepath.Join(dir, "cov.bin")
	assert.Equal(t, "wrote 8 bytes to "+want+"\n", exec(t, sh, out, "dump cov.bin"))

	dump, err := report.ReadDump(fs.NewReal(), want)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0, 0, 0, 0, 0, 0, 0}, dump)
}
