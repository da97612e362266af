package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"imcflow/internal/api"
	"imcflow/internal/reconcile"
	"imcflow/internal/textutil"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 28
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	return paint(line, statusKindColor(kind), colorize)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

// outcomeKind maps job outcomes and sample states onto display kinds.
func outcomeKind(value string) statusKind {
	switch value {
	case string(reconcile.Succeeded):
		return statusOK
	case string(reconcile.Pending):
		return statusInfo
	case string(reconcile.Cancelled):
		return statusWarn
	default:
		if reconcile.Outcome(value).IsFailure() || value == string(reconcile.SampleFailed) {
			return statusError
		}
		return statusInfo
	}
}

func paint(value, color string, colorize bool) string {
	if !colorize || color == "" {
		return value
	}
	return color + value + ansiReset
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	return []string{paint(line, ansiBlue, colorize), paint(rule, ansiBlue, colorize)}
}

// renderReport prints a per-sample outcome table followed by totals and any
// dispatch failures recorded for the run.
func renderReport(out io.Writer, report *api.Report, colorize bool) {
	for _, line := range renderSectionHeader("Run "+report.Run.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%sbackend %s, started %s, manifest %s\n", statusIndent, report.Run.Backend, report.Run.StartedAt, report.Run.ManifestPath)
	if len(report.Samples) == 0 {
		fmt.Fprintf(out, "%sno jobs recorded\n", statusIndent)
	}

	stages := stageColumns(report)
	if len(report.Samples) > 0 {
		headers := []string{"Sample", "Status"}
		for _, stage := range stages {
			headers = append(headers, textutil.Label(stage))
		}
		rows := make([][]string, 0, len(report.Samples))
		for _, sample := range report.Samples {
			row := []string{sample.Sample, paint(sample.Status, statusKindColor(outcomeKind(sample.Status)), colorize)}
			byStage := make(map[string]api.StageOutcome, len(sample.Stages))
			for _, stage := range sample.Stages {
				byStage[stage.Stage] = stage
			}
			for _, name := range stages {
				stage, ok := byStage[name]
				if !ok {
					row = append(row, "-")
					continue
				}
				cell := paint(stage.Outcome, statusKindColor(outcomeKind(stage.Outcome)), colorize)
				if stage.Skipped {
					cell += " (skipped)"
				}
				row = append(row, cell)
			}
			rows = append(rows, row)
		}
		fmt.Fprintln(out, renderTable(tableSpec{headers: headers, rows: rows}))
	}

	fmt.Fprintf(out, "%d succeeded, %d failed, %d pending of %d samples\n",
		report.Succeeded, report.Failed, report.Pending, len(report.Samples))
	var counts []string
	for _, outcome := range reconcile.AllOutcomes {
		if n := report.Counts[string(outcome)]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", outcome, n))
		}
	}
	if len(counts) > 0 {
		fmt.Fprintf(out, "jobs: %s\n", strings.Join(counts, " "))
	}

	if len(report.Errors) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Dispatch errors", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, e := range report.Errors {
			label := e.Sample
			if e.Stage != "" {
				label += "/" + e.Stage
			}
			fmt.Fprintln(out, renderStatusLine(label, statusError, e.Kind+": "+e.Message, colorize))
		}
	}
}

// stageColumns lists stage names in the order they first appear.
func stageColumns(report *api.Report) []string {
	var stages []string
	seen := make(map[string]bool)
	for _, sample := range report.Samples {
		for _, stage := range sample.Stages {
			if !seen[stage.Stage] {
				seen[stage.Stage] = true
				stages = append(stages, stage.Stage)
			}
		}
	}
	return stages
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
