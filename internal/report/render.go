// Package report renders the end-of-run summary for the terminal: colored
// status line, counters table, and the itemized failure list.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/arcflow/internal/runner"
)

// maxFailureRows bounds the failure table; the full list is always in the
// JSON run history.
const maxFailureRows = 50

const (
	elapsedRound    = time.Second
	watermarkLayout = time.RFC3339
)

// Render writes the run summary to w.
func Render(w io.Writer, r *runner.Report) {
	renderStatus(w, r)
	renderCounters(w, r)
	renderFailures(w, r)
}

func renderStatus(w io.Writer, r *runner.Report) {
	switch r.Status {
	case runner.StatusSucceeded:
		color.New(color.FgGreen).Fprintf(w, "Run %s succeeded in %s\n", r.RunID, r.Elapsed().Round(elapsedRound))
	case runner.StatusFailedPartial:
		color.New(color.FgYellow).Fprintf(w, "Run %s finished with %d failure(s) in %s\n",
			r.RunID, len(r.Failures)+r.BatchesFailed, r.Elapsed().Round(elapsedRound))
	case runner.StatusFailedFatal:
		color.New(color.FgRed).Fprintf(w, "Run %s aborted: %s\n", r.RunID, r.FatalError)
	}

	if r.WatermarkAdvanced {
		fmt.Fprintf(w, "Watermark advanced to %s (%s)\n",
			r.Watermark.Format(watermarkLayout), humanize.Time(r.Watermark))
	} else {
		color.New(color.FgYellow).Fprintf(w, "Watermark not advanced\n")
	}
}

func renderCounters(w io.Writer, r *runner.Report) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendRows([]table.Row{
		{"collections exported", r.CollectionsExported},
		{"creators exported", r.AgentsExported},
		{"creators skipped (no biography)", r.AgentsSkipped},
		{"records deleted", r.Deleted},
		{"index batches", fmt.Sprintf("%d ok / %d failed", r.BatchesSucceeded, r.BatchesFailed)},
		{"staged", humanize.Bytes(uint64(r.StagedBytes))},
	})

	tbl.Render()
}

func renderFailures(w io.Writer, r *runner.Report) {
	if len(r.Failures) == 0 {
		return
	}

	color.New(color.FgRed).Fprintf(w, "\nFailed items:\n")

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"identifier", "kind", "phase", "reason"})

	failures := r.Failures
	if len(failures) > maxFailureRows {
		failures = failures[:maxFailureRows]
	}

	for _, f := range failures {
		tbl.AppendRow(table.Row{f.Identifier, f.Kind, f.Phase, f.Reason})
	}

	if len(r.Failures) > maxFailureRows {
		tbl.AppendFooter(table.Row{fmt.Sprintf("and %d more", len(r.Failures)-maxFailureRows)})
	}

	tbl.Render()
}
