// Package main provides covmap-shell, which runs a program under the coverage
// supervisor (covmap run).
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/calvinalkan/covmap/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// The program name selects the command even when the binary is renamed.
	args := append([]string{"covmap-shell"}, os.Args[1:]...)

	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, args, env, sigCh))
}
