// Package report formats coverage results and persists them to files.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/fs"
)

// ErrInvalidDump indicates a dump file whose size is not a positive multiple of 8.
var ErrInvalidDump = errors.New("dump size must be a positive multiple of 8")

// CoverageLine formats s as "Coverage <covered> / <total> (<percent>%)".
func CoverageLine(s bitmap.Sample) string {
	return fmt.Sprintf("Coverage %d / %d (%.4f%%)", s.Covered, s.Total, s.Percent())
}

// Run is the JSON report of a supervised run.
type Run struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Exited    bool      `json:"exited"`
	ExitCode  int       `json:"exit_code"`
	Signaled  bool      `json:"signaled"`
	Signal    int       `json:"signal"`
	Timestamp time.Time `json:"timestamp"`
	Covered   uint64    `json:"covered"`
	Total     uint64    `json:"total"`
	Ratio     float64   `json:"ratio"`
}

// WriteJSON atomically replaces path with r as indented JSON.
func WriteJSON(path string, r Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	data = append(data, '\n')

	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}

	return nil
}

// WriteDump atomically replaces path with a copy of the bitmap bytes. The
// copy is taken first so the file never mixes bytes from different moments
// while writers keep setting bits.
func WriteDump(path string, data []byte) error {
	snapshot := bytes.Clone(data)

	err := atomic.WriteFile(path, bytes.NewReader(snapshot))
	if err != nil {
		return fmt.Errorf("writing dump %s: %w", path, err)
	}

	return nil
}

// ReadDump reads a bitmap written by [WriteDump].
func ReadDump(fsys fs.FS, path string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}

	if len(data) == 0 || len(data)%8 != 0 {
		return nil, fmt.Errorf("%s has %d bytes: %w", path, len(data), ErrInvalidDump)
	}

	return data, nil
}
