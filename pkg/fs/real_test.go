package fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func Test_RealFS_Exists_Returns_False_When_Path_Does_Not_Exist(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	dir := t.TempDir()

	exists, err := fs.Exists(filepath.Join(dir, "does-not-exist"))

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, false; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_RealFS_Exists_Returns_True_When_Path_Is_A_File(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "segment")

	if err := os.WriteFile(path, make([]byte, 8), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := fs.Exists(path)

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, true; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_Injected_Fails_Only_The_Selected_Operation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "segment")
	inj := NewInjected(NewReal())
	inj.Fail(OpRemove, syscall.EACCES)

	f, err := inj.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	_ = f.Close()

	err = inj.Remove(path)
	if !IsInjected(err) {
		t.Fatalf("Remove err=%v, want injected", err)
	}

	if !errors.Is(err, syscall.EACCES) {
		t.Fatalf("Remove err=%v, want EACCES", err)
	}

	// The file must still be there: the injected fault skips the real call.
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("file should still exist: %v", statErr)
	}

	if got, want := len(inj.Calls(OpRemove)), 1; got != want {
		t.Fatalf("remove calls=%d, want=%d", got, want)
	}

	inj.Fail(OpRemove, nil)

	if err := inj.Remove(path); err != nil {
		t.Fatalf("Remove after clearing fault: %v", err)
	}
}

func Test_Injected_Exists_Reports_Stat_Faults(t *testing.T) {
	t.Parallel()

	inj := NewInjected(NewReal())
	inj.Fail(OpStat, syscall.EIO)

	exists, err := inj.Exists(t.TempDir())
	if exists {
		t.Fatal("exists should be false when stat fails")
	}

	if !IsInjected(err) {
		t.Fatalf("err=%v, want injected", err)
	}
}
