package cli

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/covmap/internal/inspect"
)

const prompt = "covmap> "

// repl feeds lines to sh until exit or end of input. A terminal gets line
// editing and history; any other input is read line by line without a prompt.
func repl(o *IO, sh *inspect.Shell) error {
	if f, ok := o.In().(*os.File); ok && isTerminal(f) {
		return interactive(o, sh)
	}

	scanner := bufio.NewScanner(o.In())
	for scanner.Scan() {
		done, err := execLine(o, sh, scanner.Text())
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}

	return scanner.Err()
}

func interactive(o *IO, sh *inspect.Shell) error {
	o.Println(sh.Banner())
	o.Println()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.Complete)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer saveHistory(line)

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				o.Println()

				return nil
			}

			return err
		}

		if input != "" {
			line.AppendHistory(input)
		}

		done, err := execLine(o, sh, input)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}
}

// execLine runs one line and reports whether the session ended. Command
// errors are printed and the session goes on.
func execLine(o *IO, sh *inspect.Shell, input string) (bool, error) {
	err := sh.Exec(input)

	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, inspect.ErrExit):
		return true, nil
	default:
		o.Println("error:", err)

		return false, nil
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".covmap_history")
}

func saveHistory(line *liner.State) {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = line.WriteHistory(f)
	_ = f.Close()
}

func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)

	return err == nil
}
