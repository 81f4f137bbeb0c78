package supervisor

import (
	"fmt"
	"io"

	"github.com/calvinalkan/covmap/internal/report"
)

// WriteReport writes the termination line and the coverage line:
//
//	Program exited normally, exit code = 0
//	Coverage 3 / 512 (0.5859%)
func WriteReport(w io.Writer, s ExitSummary) error {
	var status string

	switch {
	case s.Signaled:
		status = fmt.Sprintf("Program killed by signal, signal is %d", int(s.Signal))
	default:
		status = fmt.Sprintf("Program exited normally, exit code = %d", s.ExitCode)
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n", status, report.CoverageLine(s.Sample))
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

// WriteJSONReport writes s as a JSON report for the segment name.
func WriteJSONReport(path, name string, s ExitSummary) error {
	return report.WriteJSON(path, report.Run{
		Name:      name,
		PID:       s.PID,
		Exited:    s.Exited,
		ExitCode:  s.ExitCode,
		Signaled:  s.Signaled,
		Signal:    int(s.Signal),
		Timestamp: s.Sample.Timestamp,
		Covered:   s.Sample.Covered,
		Total:     s.Sample.Total,
		Ratio:     s.Sample.Ratio,
	})
}
