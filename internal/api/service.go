package api

import (
	"context"
	"maps"
	"strings"

	"imcflow/internal/jobs"
	"imcflow/internal/ledger"
	"imcflow/internal/reconcile"
)

// LatestRunID selects the most recent run wherever a run id is accepted.
const LatestRunID = "latest"

// LedgerReader abstracts the ledger reads needed for run queries.
type LedgerReader interface {
	Runs(ctx context.Context, limit int) ([]ledger.Run, error)
	GetRun(ctx context.Context, id string) (*ledger.Run, error)
	LatestRun(ctx context.Context) (*ledger.Run, error)
	Jobs(ctx context.Context, runID string) ([]jobs.Job, error)
	Errors(ctx context.Context, runID string) ([]ledger.ErrorRecord, error)
	Skips(ctx context.Context, runID string) ([]ledger.SkipRecord, error)
}

// Classifier maps jobs and skipped stages to outcomes.
// *reconcile.Reconciler implements it.
type Classifier interface {
	Reconcile(js []jobs.Job) map[jobs.Key]reconcile.Outcome
	ReconcileCompleted(completed []reconcile.Completed) map[jobs.Key]reconcile.Outcome
}

// RunService exposes read-only run queries returning API DTOs.
type RunService struct {
	store      LedgerReader
	classifier Classifier
}

// NewRunService constructs a RunService. A nil classifier leaves outcomes
// out of job listings and reports every job as pending.
func NewRunService(store LedgerReader, classifier Classifier) *RunService {
	if store == nil {
		return nil
	}
	return &RunService{store: store, classifier: classifier}
}

// Runs lists the most recent runs, newest first.
func (s *RunService) Runs(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	runs, err := s.store.Runs(ctx, limit)
	if err != nil {
		return nil, err
	}
	return FromRuns(runs), nil
}

// Resolve returns the run with id, or the latest run when id is empty or
// LatestRunID.
func (s *RunService) Resolve(ctx context.Context, id string) (*ledger.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == LatestRunID {
		return s.store.LatestRun(ctx)
	}
	return s.store.GetRun(ctx, id)
}

// Jobs lists the recorded jobs of a run with their current outcomes.
func (s *RunService) Jobs(ctx context.Context, id string) (string, []Job, error) {
	run, err := s.Resolve(ctx, id)
	if err != nil {
		return "", nil, err
	}
	js, err := s.store.Jobs(ctx, run.ID)
	if err != nil {
		return "", nil, err
	}
	outcomes := s.classify(js)
	out := make([]Job, 0, len(js))
	for _, job := range js {
		out = append(out, FromJob(job, outcomes[job.Key()]))
	}
	return run.ID, out, nil
}

// Report reconciles a run against the artifacts currently on disk.
func (s *RunService) Report(ctx context.Context, id string) (*Report, error) {
	run, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	js, err := s.store.Jobs(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Errors(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	skips, err := s.store.Skips(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	completed := make([]reconcile.Completed, 0, len(skips))
	for _, skip := range skips {
		completed = append(completed, reconcile.Completed{
			Sample:         skip.Sample,
			Stage:          skip.Stage,
			Ordinal:        skip.Ordinal,
			ExpectedOutput: skip.ExpectedOutput,
		})
	}

	outcomes := s.classify(js)
	summaryOutcomes := maps.Clone(outcomes)
	if s.classifier != nil {
		maps.Copy(summaryOutcomes, s.classifier.ReconcileCompleted(completed))
	}
	summary := reconcile.Summarize(js, completed, summaryOutcomes)
	report := &Report{
		Run:       FromRun(*run),
		Jobs:      make([]Job, 0, len(js)),
		Samples:   FromSummary(summary),
		Counts:    countsByName(summary.Counts),
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Pending:   summary.Pending,
	}
	for _, job := range js {
		outcome, ok := outcomes[job.Key()]
		if !ok {
			outcome = reconcile.Pending
		}
		report.Jobs = append(report.Jobs, FromJob(job, outcome))
	}
	for _, rec := range records {
		report.Errors = append(report.Errors, FromErrorRecord(rec))
	}
	return report, nil
}

func (s *RunService) classify(js []jobs.Job) map[jobs.Key]reconcile.Outcome {
	if s.classifier == nil {
		return map[jobs.Key]reconcile.Outcome{}
	}
	return s.classifier.Reconcile(js)
}
