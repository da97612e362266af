package api

import (
	"time"

	"imcflow/internal/jobs"
	"imcflow/internal/ledger"
	"imcflow/internal/reconcile"
)

// FromRun converts a ledger run.
func FromRun(run ledger.Run) Run {
	return Run{
		ID:           run.ID,
		Backend:      run.Backend,
		ManifestPath: run.ManifestPath,
		PanelPath:    run.PanelPath,
		Samples:      run.Samples,
		Jobs:         run.Jobs,
		Errors:       run.Errors,
		Skipped:      run.Skipped,
		DryRun:       run.DryRun,
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
	}
}

// FromRuns converts a run list.
func FromRuns(runs []ledger.Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// FromJob converts a job record. outcome may be empty when the job has not
// been reconciled.
func FromJob(job jobs.Job, outcome reconcile.Outcome) Job {
	view := job.View()
	return Job{
		Sample:         view.Sample,
		Stage:          view.Stage,
		Ordinal:        view.Ordinal,
		Backend:        view.Backend,
		Receipt:        view.Receipt,
		Outcome:        string(outcome),
		Command:        view.Command,
		CPUs:           view.CPUs,
		MemoryMB:       view.MemoryMB,
		WallTime:       view.WallTime,
		Partition:      view.Partition,
		LogPath:        view.LogPath,
		ExpectedOutput: view.ExpectedOutput,
		SubmittedAt:    formatTime(view.SubmittedAt),
	}
}

// FromErrorRecord converts a recorded dispatch failure.
func FromErrorRecord(rec ledger.ErrorRecord) DispatchError {
	return DispatchError{
		Sample:     rec.Sample,
		Stage:      rec.Stage,
		Kind:       rec.Kind,
		Message:    rec.Message,
		RecordedAt: formatTime(rec.RecordedAt),
	}
}

// FromSummary converts per-sample states.
func FromSummary(summary reconcile.Summary) []SampleStatus {
	out := make([]SampleStatus, 0, len(summary.Samples))
	for _, sample := range summary.Samples {
		status := SampleStatus{Sample: sample.Sample, Status: string(sample.Status)}
		for _, stage := range sample.Stages {
			status.Stages = append(status.Stages, StageOutcome{
				Stage:   stage.Stage,
				Outcome: string(stage.Outcome),
				Receipt: stage.Receipt,
				LogPath: stage.LogPath,
				Skipped: stage.Skipped,
			})
		}
		out = append(out, status)
	}
	return out
}

// countsByName keys outcome counts by their string form, listing every
// outcome so consumers see zeros.
func countsByName(counts map[reconcile.Outcome]int) map[string]int {
	out := make(map[string]int, len(reconcile.AllOutcomes))
	for _, outcome := range reconcile.AllOutcomes {
		out[string(outcome)] = counts[outcome]
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
