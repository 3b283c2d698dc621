package report

import (
	"io"

	"github.com/pterm/pterm"

	"github.com/rybkr/pathsieve/internal/walker"
)

// Counts summarizes one walk's outcome for a terminal-friendly printout.
type Counts struct {
	Emitted int
	Errored int
}

// CountResults tallies a walk's Result stream (already drained by the
// caller) into Counts.
func CountResults(results []walker.Result) Counts {
	var c Counts
	for _, r := range results {
		if r.Err != nil {
			c.Errored++
			continue
		}
		c.Emitted++
	}
	return c
}

// PrintSummary writes a colored table of walk counts to w using pterm. It
// degrades gracefully to pterm's own non-TTY detection, so piping output
// still produces readable plain text.
func PrintSummary(w io.Writer, root string, c Counts) error {
	data := pterm.TableData{
		{"Root", root},
		{"Emitted", pterm.Sprintf("%d", c.Emitted)},
		{"Errors", pterm.Sprintf("%d", c.Errored)},
	}
	table := pterm.DefaultTable.WithData(data).WithWriter(w)
	return table.Render()
}
