package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/calvinalkan/covmap/pkg/covrt"
)

// CLI provides a clean interface for running CLI commands in tests.
// It manages a temp working directory, a private segment directory and
// environment variables.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a new test CLI. Segments are created in a temp directory
// instead of /dev/shm so tests never collide.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{
		t:   t,
		Dir: t.TempDir(),
		Env: map[string]string{covrt.EnvDir: t.TempDir()},
	}
}

// SegmentDir returns the directory segments are created in.
func (r *CLI) SegmentDir() string {
	return r.Env[covrt.EnvDir]
}

// SegmentPath returns the file backing the segment called name.
func (r *CLI) SegmentPath(name string) string {
	return filepath.Join(r.SegmentDir(), name)
}

// UniqueName returns a segment name no other test uses.
func UniqueName() string {
	return "covmap-test-" + uuid.NewString()
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "covmap" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.run("covmap", "", nil, args)
}

// RunAs executes the CLI as if the binary were called program.
func (r *CLI) RunAs(program string, args ...string) (string, string, int) {
	return r.run(program, "", nil, args)
}

// RunWithInput executes the CLI with stdin and returns stdout, stderr, and exit code.
// stdin must be a string or io.Reader; panics otherwise.
func (r *CLI) RunWithInput(stdin any, args ...string) (string, string, int) {
	return r.run("covmap", stdin, nil, args)
}

// RunWithSignals executes the CLI with sigCh as its signal subscription.
func (r *CLI) RunWithSignals(sigCh <-chan os.Signal, args ...string) (string, string, int) {
	return r.run("covmap", "", sigCh, args)
}

func (r *CLI) run(program string, stdin any, sigCh <-chan os.Signal, args []string) (string, string, int) {
	var inReader io.Reader
	switch v := stdin.(type) {
	case string:
		inReader = strings.NewReader(v)
	case io.Reader:
		inReader = v
	default:
		panic(fmt.Sprintf("stdin must be string or io.Reader, got %T", stdin))
	}

	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{program, "--cwd", r.Dir}, args...)
	code := Run(inReader, &outBuf, &errBuf, fullArgs, r.Env, sigCh)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Also fails if stdout is not empty. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	if stdout != "" {
		r.t.Fatalf("command %v failed but stdout should be empty\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// WriteFile writes content to path relative to the working directory.
func (r *CLI) WriteFile(path, content string) {
	r.t.Helper()

	err := os.WriteFile(filepath.Join(r.Dir, path), []byte(content), 0o600)
	if err != nil {
		r.t.Fatalf("failed to write %s: %v", path, err)
	}
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
