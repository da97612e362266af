package dispatch

import (
	"errors"
	"fmt"

	"imcflow/internal/jobs"
	"imcflow/internal/pipeline"
)

// FailureKind classifies a dispatch-time failure.
type FailureKind string

// Failure kinds.
const (
	FailureTemplate   FailureKind = "template"
	FailureSubmission FailureKind = "submission"
	FailureOutputDir  FailureKind = "output_dir"
	FailureCollision  FailureKind = "log_collision"
	FailureLedger     FailureKind = "ledger"
)

// Failure is a recorded dispatch-time error for one sample and stage.
type Failure struct {
	Sample string
	Stage  string
	Kind   FailureKind
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s/%s: %v", f.Sample, f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Skip is a stage left out because its expected output already exists.
type Skip struct {
	Sample         string
	Stage          string
	Ordinal        int
	ExpectedOutput string
}

// Result is everything one dispatch produced.
type Result struct {
	RunID string
	// Jobs are the submitted jobs in submission order.
	Jobs []jobs.Job
	// Planned holds the rendered commands of a dry run.
	Planned  []pipeline.Command
	Failures []Failure
	Skipped  []Skip
}

// OK reports whether every planned job was dispatched.
func (r Result) OK() bool { return len(r.Failures) == 0 }

// Err joins the recorded failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}
