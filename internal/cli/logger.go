package cli

import (
	"io"

	"github.com/sirupsen/logrus"
)

// newLogger returns the diagnostics logger of one invocation. Only warnings
// are shown unless --verbose is set.
func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
		DisableSorting:   true,
		QuoteEmptyFields: true,
	})
	l.SetLevel(logrus.WarnLevel)

	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}

	return l
}
