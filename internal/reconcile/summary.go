package reconcile

import (
	"slices"

	"imcflow/internal/jobs"
)

// SampleStatus is the batch-level state of one sample.
type SampleStatus string

// Sample states.
const (
	SampleSucceeded SampleStatus = "succeeded"
	SampleFailed    SampleStatus = "failed"
	SamplePending   SampleStatus = "pending"
)

// StageResult is one classified stage of a sample.
type StageResult struct {
	Stage    string  `json:"stage"`
	Ordinal  int     `json:"ordinal"`
	Outcome  Outcome `json:"outcome"`
	LogPath  string  `json:"log_path,omitempty"`
	Receipt  string  `json:"receipt,omitempty"`
	Artifact string  `json:"expected_output"`
	// Skipped marks a stage the run left out because its output existed.
	Skipped bool `json:"skipped,omitempty"`
}

// SampleSummary groups a sample's stage outcomes.
type SampleSummary struct {
	Sample string        `json:"sample"`
	Status SampleStatus  `json:"status"`
	Stages []StageResult `json:"stages"`
}

// Summary is the batch report.
type Summary struct {
	Samples   []SampleSummary `json:"samples"`
	Counts    map[Outcome]int `json:"counts"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Pending   int             `json:"pending"`
}

// Summarize folds job and skipped-stage outcomes into per-sample states. A
// sample failed when any of its stages failed, succeeded when its last stage
// succeeded, and is pending otherwise. Samples keep the order in which they
// first appear, jobs before skipped stages.
func Summarize(js []jobs.Job, completed []Completed, outcomes map[jobs.Key]Outcome) Summary {
	summary := Summary{Counts: make(map[Outcome]int, len(AllOutcomes))}
	index := make(map[string]int)
	add := func(sample string, key jobs.Key, stage StageResult) {
		outcome, ok := outcomes[key]
		if !ok {
			outcome = Pending
		}
		stage.Outcome = outcome
		summary.Counts[outcome]++
		i, seen := index[sample]
		if !seen {
			i = len(summary.Samples)
			index[sample] = i
			summary.Samples = append(summary.Samples, SampleSummary{Sample: sample})
		}
		summary.Samples[i].Stages = append(summary.Samples[i].Stages, stage)
	}
	for _, job := range js {
		add(job.Sample(), job.Key(), StageResult{
			Stage:    job.Stage(),
			Ordinal:  job.Ordinal(),
			LogPath:  job.LogPath(),
			Receipt:  job.Receipt().String(),
			Artifact: job.ExpectedOutput(),
		})
	}
	for _, c := range completed {
		add(c.Sample, c.Key(), StageResult{
			Stage:    c.Stage,
			Ordinal:  c.Ordinal,
			Artifact: c.ExpectedOutput,
			Skipped:  true,
		})
	}

	for i := range summary.Samples {
		sample := &summary.Samples[i]
		slices.SortStableFunc(sample.Stages, func(a, b StageResult) int { return a.Ordinal - b.Ordinal })
		sample.Status = sampleStatus(sample.Stages)
		switch sample.Status {
		case SampleSucceeded:
			summary.Succeeded++
		case SampleFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary
}

func sampleStatus(stages []StageResult) SampleStatus {
	for _, stage := range stages {
		if stage.Outcome.IsFailure() {
			return SampleFailed
		}
	}
	if len(stages) > 0 && stages[len(stages)-1].Outcome == Succeeded {
		return SampleSucceeded
	}
	return SamplePending
}
