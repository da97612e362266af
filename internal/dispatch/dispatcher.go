package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"imcflow/internal/backend"
	"imcflow/internal/config"
	"imcflow/internal/events"
	"imcflow/internal/jobs"
	"imcflow/internal/ledger"
	"imcflow/internal/logging"
	"imcflow/internal/manifest"
	"imcflow/internal/pipeline"
	"imcflow/internal/textutil"
)

// Recorder persists runs and job records. *ledger.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, run ledger.Run) error
	RecordJob(ctx context.Context, job jobs.Job) error
	RecordError(ctx context.Context, rec ledger.ErrorRecord) error
	RecordSkip(ctx context.Context, rec ledger.SkipRecord) error
	FinishRun(ctx context.Context, id string, totals ledger.RunTotals) error
}

// Options is the dispatch policy.
type Options struct {
	LogDir            string
	ChainDependencies bool
	SkipCompleted     bool
	DryRun            bool
}

// OptionsFromConfig maps cfg onto dispatch options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LogDir:            cfg.Paths.LogDir,
		ChainDependencies: cfg.Backend.ChainDependencies,
		SkipCompleted:     cfg.Backend.SkipCompleted,
	}
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder records runs and jobs in r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithPublisher announces dispatch events on p.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.publisher = p
		}
	}
}

// WithClock overrides the submission clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher submits one job per (sample, stage).
type Dispatcher struct {
	opts      Options
	globals   pipeline.Globals
	recorder  Recorder
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a dispatcher. globals are the run-wide template values.
func New(opts Options, globals pipeline.Globals, logger *slog.Logger, options ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Dispatcher{
		opts:      opts,
		globals:   globals,
		publisher: events.Nop{},
		logger:    logging.NewComponentLogger(logger, "dispatch"),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Dispatch walks the manifest's samples and submits their stages to b.
// The returned error is reserved for problems that stop the whole run; per
// sample problems are in Result.Failures.
func (d *Dispatcher) Dispatch(ctx context.Context, m *manifest.Manifest, stages []pipeline.Stage, b backend.Backend) (Result, error) {
	if m == nil {
		return Result{}, errors.New("dispatch: manifest is nil")
	}
	if b == nil && !d.opts.DryRun {
		return Result{}, errors.New("dispatch: backend is nil")
	}
	if len(stages) == 0 {
		return Result{}, errors.New("dispatch: no stages")
	}
	if d.opts.LogDir == "" {
		return Result{}, errors.New("dispatch: log directory is not set")
	}
	ordered := slices.Clone(stages)
	slices.SortStableFunc(ordered, func(a, b pipeline.Stage) int { return a.Ordinal - b.Ordinal })

	run := &runState{
		d:        d,
		backend:  b,
		result:   Result{RunID: uuid.NewString()},
		logPaths: make(map[string]string),
	}
	ctx = logging.WithRunID(ctx, run.result.RunID)
	logger := logging.WithContext(ctx, d.logger)

	kind, panelPath := "", ""
	if m.Panel != nil {
		panelPath = m.Panel.Path
	}
	if b != nil {
		kind = string(b.Kind())
	}
	if d.recorder != nil {
		if err := d.recorder.BeginRun(ctx, ledger.Run{
			ID:           run.result.RunID,
			Backend:      kind,
			ManifestPath: m.Path,
			PanelPath:    panelPath,
			Samples:      len(m.Samples),
			DryRun:       d.opts.DryRun,
			StartedAt:    d.now(),
		}); err != nil {
			return Result{}, fmt.Errorf("dispatch: begin run: %w", err)
		}
	}
	logger.Info("dispatch started",
		logging.String("backend", kind),
		logging.Int("samples", len(m.Samples)),
		logging.Int("stages", len(ordered)),
		logging.Bool("dry_run", d.opts.DryRun),
	)
	d.publish(ctx, events.Event{Type: events.TypeRunStarted, RunID: run.result.RunID, Backend: kind})

	var runErr error
	for _, sample := range m.Samples {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		run.sample(ctx, sample, m.PanelFor(sample), ordered)
	}

	if d.recorder != nil {
		totals := ledger.RunTotals{
			Jobs:    len(run.result.Jobs),
			Errors:  len(run.result.Failures),
			Skipped: len(run.result.Skipped),
		}
		if err := d.recorder.FinishRun(context.WithoutCancel(ctx), run.result.RunID, totals); err != nil {
			logging.WarnWithContext(logger, "ledger finish failed", "ledger_finish_failed", logging.Error(err))
		}
	}
	logger.Info("dispatch finished",
		logging.Int("jobs", len(run.result.Jobs)),
		logging.Int("planned", len(run.result.Planned)),
		logging.Int("failures", len(run.result.Failures)),
		logging.Int("skipped", len(run.result.Skipped)),
	)
	d.publish(ctx, events.Event{
		Type:    events.TypeRunFinished,
		RunID:   run.result.RunID,
		Backend: kind,
		Message: fmt.Sprintf("%d jobs, %d failures, %d skipped", len(run.result.Jobs), len(run.result.Failures), len(run.result.Skipped)),
	})
	return run.result, runErr
}

type runState struct {
	d        *Dispatcher
	backend  backend.Backend
	result   Result
	logPaths map[string]string
}

func (r *runState) sample(ctx context.Context, sample manifest.Sample, panel *manifest.Panel, stages []pipeline.Stage) {
	ctx = logging.WithSample(ctx, sample.Name)
	var (
		previous backend.Receipt
		prevOut  string
	)
	for _, stage := range stages {
		stageCtx := logging.WithStage(ctx, stage.Name)
		logger := logging.WithContext(stageCtx, r.d.logger)

		globals := r.d.globals
		globals.Previous = prevOut
		cmd, err := pipeline.Render(stage, sample, panel, globals)
		if err != nil {
			r.fail(stageCtx, sample.Name, stage.Name, FailureTemplate, err)
			return
		}

		if r.d.opts.SkipCompleted && fileExists(cmd.ExpectedOutput) {
			r.skip(stageCtx, Skip{
				Sample:         sample.Name,
				Stage:          stage.Name,
				Ordinal:        stage.Ordinal,
				ExpectedOutput: cmd.ExpectedOutput,
			})
			previous = backend.Receipt{}
			prevOut = cmd.ExpectedOutput
			continue
		}

		name := JobName(sample.Name, stage.Name)
		logPath := LogPath(r.d.opts.LogDir, r.result.RunID, sample.Name, stage.Name)
		if owner, taken := r.logPaths[logPath]; taken {
			r.fail(stageCtx, sample.Name, stage.Name, FailureCollision,
				fmt.Errorf("log path %s is already used by %s", logPath, owner))
			return
		}
		r.logPaths[logPath] = sample.Name + "/" + stage.Name

		if r.d.opts.DryRun {
			r.result.Planned = append(r.result.Planned, cmd)
			prevOut = cmd.ExpectedOutput
			continue
		}

		if err := os.MkdirAll(cmd.OutputDir, 0o755); err != nil {
			r.fail(stageCtx, sample.Name, stage.Name, FailureOutputDir, fmt.Errorf("create output directory: %w", err))
			return
		}
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			r.fail(stageCtx, sample.Name, stage.Name, FailureOutputDir, fmt.Errorf("create log directory: %w", err))
			return
		}

		sub := backend.Submission{
			Name:      name,
			Command:   cmd.Line,
			Resources: cmd.Resources,
			LogPath:   logPath,
		}
		if r.d.opts.ChainDependencies {
			sub.After = previous
		}
		receipt, err := r.backend.Submit(stageCtx, sub)
		if err != nil {
			r.fail(stageCtx, sample.Name, stage.Name, FailureSubmission, err)
			return
		}

		job := jobs.New(jobs.Spec{
			RunID:          r.result.RunID,
			Sample:         sample.Name,
			Stage:          stage.Name,
			Ordinal:        stage.Ordinal,
			Command:        cmd.Line,
			Backend:        r.backend.Kind(),
			Resources:      cmd.Resources,
			LogPath:        logPath,
			ExpectedOutput: cmd.ExpectedOutput,
			Receipt:        receipt,
			SubmittedAt:    r.d.now(),
		})
		r.result.Jobs = append(r.result.Jobs, job)
		logger.Info("job submitted",
			logging.String("receipt", receipt.String()),
			logging.String("log_path", logPath),
			logging.String("after", sub.After.String()),
		)
		r.d.publish(stageCtx, events.Event{
			Type:    events.TypeJobSubmitted,
			RunID:   r.result.RunID,
			Sample:  sample.Name,
			Stage:   stage.Name,
			Backend: string(r.backend.Kind()),
			Receipt: receipt.String(),
			LogPath: logPath,
		})
		if r.d.recorder != nil {
			if err := r.d.recorder.RecordJob(stageCtx, job); err != nil {
				r.fail(stageCtx, sample.Name, stage.Name, FailureLedger, err)
			}
		}

		previous = receipt
		prevOut = cmd.ExpectedOutput
	}
}

func (r *runState) skip(ctx context.Context, skip Skip) {
	r.result.Skipped = append(r.result.Skipped, skip)
	logger := logging.WithContext(ctx, r.d.logger)
	logger.Info("stage output present; skipping", logging.String("expected_output", skip.ExpectedOutput))
	r.d.publish(ctx, events.Event{
		Type: events.TypeJobSkipped, RunID: r.result.RunID, Sample: skip.Sample, Stage: skip.Stage,
	})
	if r.d.recorder == nil || r.d.opts.DryRun {
		return
	}
	if err := r.d.recorder.RecordSkip(ctx, ledger.SkipRecord{
		RunID:          r.result.RunID,
		Sample:         skip.Sample,
		Stage:          skip.Stage,
		Ordinal:        skip.Ordinal,
		ExpectedOutput: skip.ExpectedOutput,
		RecordedAt:     r.d.now(),
	}); err != nil {
		logging.WarnWithContext(logger, "ledger skip record failed", "ledger_record_failed", logging.Error(err))
	}
}

func (r *runState) fail(ctx context.Context, sample, stage string, kind FailureKind, err error) {
	r.result.Failures = append(r.result.Failures, Failure{Sample: sample, Stage: stage, Kind: kind, Err: err})
	logger := logging.WithContext(ctx, r.d.logger)
	logging.ErrorWithContext(logger, "dispatch failed for sample", "dispatch_"+string(kind),
		logging.Error(err),
	)
	r.d.publish(ctx, events.Event{
		Type:    events.TypeDispatchError,
		RunID:   r.result.RunID,
		Sample:  sample,
		Stage:   stage,
		Message: err.Error(),
	})
	if r.d.recorder != nil && kind != FailureLedger {
		if recErr := r.d.recorder.RecordError(ctx, ledger.ErrorRecord{
			RunID:      r.result.RunID,
			Sample:     sample,
			Stage:      stage,
			Kind:       string(kind),
			Message:    err.Error(),
			RecordedAt: r.d.now(),
		}); recErr != nil {
			logging.WarnWithContext(logger, "ledger error record failed", "ledger_record_failed", logging.Error(recErr))
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, event events.Event) {
	if err := d.publisher.Publish(ctx, event); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "event publish failed", "event_publish_failed",
			logging.String("event", event.Type),
			logging.Error(err),
		)
	}
}

// JobName returns the scheduler job name for a (sample, stage) pair.
func JobName(sample, stage string) string {
	return textutil.SanitizeSegment(sample) + "." + textutil.SanitizeSegment(stage)
}

// LogPath returns the log location of a (sample, stage) pair within one run.
// Each run writes under its own directory so a later run never touches the
// logs an earlier run's jobs are classified from.
func LogPath(logDir, runID, sample, stage string) string {
	return filepath.Join(logDir, runID, JobName(sample, stage)+".log")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
