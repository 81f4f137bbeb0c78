package report_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/covmap/internal/report"
	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/fs"
)

func Test_CoverageLine_Formats_Four_Decimal_Percent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sample bitmap.Sample
		want   string
	}{
		{bitmap.Sample{Covered: 3, Total: 512, Ratio: 3.0 / 512}, "Coverage 3 / 512 (0.5859%)"},
		{bitmap.Sample{Covered: 0, Total: 64}, "Coverage 0 / 64 (0.0000%)"},
		{bitmap.Sample{Covered: 64, Total: 64, Ratio: 1}, "Coverage 64 / 64 (100.0000%)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, report.CoverageLine(tt.sample))
	}
}

func Test_WriteDump_Round_Trips_Through_ReadDump(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cov.bin")
	data := []byte{1, 0, 0, 0, 0, 0, 0, 0x80}

	require.NoError(t, report.WriteDump(path, data))

	got, err := report.ReadDump(fs.NewReal(), path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func Test_ReadDump_Rejects_Sizes_That_Are_Not_Multiples_Of_8(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, size := range []int{0, 5, 12} {
		path := filepath.Join(dir, "dump")
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))

		_, err := report.ReadDump(fs.NewReal(), path)
		require.ErrorIs(t, err, report.ErrInvalidDump, "size %d", size)
	}

	_, err := report.ReadDump(fs.NewReal(), filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_WriteJSON_Writes_Snake_Case_Fields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.json")
	run := report.Run{
		Name:      "cov",
		PID:       42,
		Exited:    true,
		ExitCode:  3,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Covered:   2,
		Total:     64,
		Ratio:     2.0 / 64,
	}

	require.NoError(t, report.WriteJSON(path, run))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fields map[string]any

	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "cov", fields["name"])
	assert.InDelta(t, 42, fields["pid"], 0)
	assert.Equal(t, true, fields["exited"])
	assert.InDelta(t, 3, fields["exit_code"], 0)
	assert.Equal(t, false, fields["signaled"])
	assert.InDelta(t, 0.03125, fields["ratio"], 0)
}
