package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"imcflow/internal/api"
	"imcflow/internal/backend"
	"imcflow/internal/config"
	"imcflow/internal/dispatch"
	"imcflow/internal/events"
	"imcflow/internal/ledger"
	"imcflow/internal/logging"
	"imcflow/internal/manifest"
	"imcflow/internal/pipeline"
	"imcflow/internal/preflight"
	"imcflow/internal/reconcile"
	"imcflow/internal/runlock"
)

type runOptions struct {
	backend     string
	manifest    string
	panel       string
	model       string
	invocation  string
	stages      string
	maxParallel int
	dryRun      bool
	wait        bool
	noChain     bool
	force       bool
	skipChecks  bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch segmentation and quantification jobs for every sample",
		Long: `Render each stage for every enabled sample in the manifest and submit the
jobs to the configured backend. Problems with one sample are reported and the
remaining samples are still dispatched. The command exits non-zero when any
job could not be dispatched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *base
			if err := opts.apply(cmd, &cfg); err != nil {
				return err
			}
			return runDispatch(cmd, ctx, &cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.backend, "backend", "", "Execution backend: local or cluster")
	flags.StringVar(&opts.manifest, "manifest", "", "Sample manifest CSV")
	flags.StringVar(&opts.panel, "panel", "", "Marker panel CSV")
	flags.StringVar(&opts.model, "model", "", "Segmentation model (pixel classifier project)")
	flags.StringVar(&opts.invocation, "quant-invocation", "", "Command prefix that runs the quantification tool")
	flags.StringVar(&opts.stages, "stages", "", "YAML stage definitions replacing the built-in stages")
	flags.IntVar(&opts.maxParallel, "max-parallel", 0, "Concurrent local jobs")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Render commands without submitting")
	flags.BoolVar(&opts.wait, "wait", false, "Wait for local jobs and print the reconciled summary")
	flags.BoolVar(&opts.noChain, "no-chain", false, "Do not make later stages depend on earlier ones")
	flags.BoolVar(&opts.force, "force", false, "Resubmit stages whose output already exists")
	flags.BoolVar(&opts.skipChecks, "skip-checks", false, "Dispatch even when preflight checks fail")
	return cmd
}

func (o runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	expand := func(flag, value string, target *string) error {
		if !cmd.Flags().Changed(flag) {
			return nil
		}
		expanded, err := config.ExpandPath(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
		*target = expanded
		return nil
	}
	if err := expand("manifest", o.manifest, &cfg.Manifest.Path); err != nil {
		return err
	}
	if err := expand("panel", o.panel, &cfg.Manifest.PanelPath); err != nil {
		return err
	}
	if err := expand("model", o.model, &cfg.Segmentation.ModelPath); err != nil {
		return err
	}
	if err := expand("stages", o.stages, &cfg.Stages.File); err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		kind, err := backend.ParseKind(o.backend)
		if err != nil {
			return err
		}
		cfg.Backend.Kind = string(kind)
	}
	if cmd.Flags().Changed("quant-invocation") {
		cfg.Quantification.Invocation = strings.TrimSpace(o.invocation)
	}
	if cmd.Flags().Changed("max-parallel") {
		cfg.Backend.MaxParallel = o.maxParallel
	}
	if o.noChain {
		cfg.Backend.ChainDependencies = false
	}
	if o.force {
		cfg.Backend.SkipCompleted = false
	}
	return cfg.Validate()
}

func runDispatch(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, opts runOptions) error {
	runCtx := cmd.Context()
	logger := ctx.log()
	out := cmd.OutOrStdout()

	if strings.TrimSpace(cfg.Manifest.Path) == "" {
		return errors.New("no manifest configured (set manifest.path or pass --manifest)")
	}
	m, err := manifest.Load(cfg.Manifest.Path, cfg.Manifest.PanelPath, manifest.OptionsFromConfig(cfg.Manifest))
	if err != nil {
		return err
	}
	for _, name := range m.Disabled {
		logger.Info("sample disabled in manifest", logging.String(logging.FieldSample, name))
	}
	if !opts.dryRun {
		if err := m.CheckInputs(); err != nil {
			return err
		}
	}
	stages, err := pipeline.Stages(cfg)
	if err != nil {
		return err
	}
	kind, err := backend.ParseKind(cfg.Backend.Kind)
	if err != nil {
		return err
	}

	if !opts.dryRun && !opts.skipChecks {
		if blocking := preflight.Blocking(preflight.RunAll(runCtx, cfg, m, stages, kind)); len(blocking) > 0 {
			for _, r := range blocking {
				fmt.Fprintf(cmd.ErrOrStderr(), "preflight: %s: %s\n", r.Name, r.Detail)
			}
			return fmt.Errorf("%d preflight checks failed (run `imcflow check` for details)", len(blocking))
		}
	}

	if !opts.dryRun {
		lock, err := runlock.Acquire(cfg.Paths.LogDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	publisher, err := events.New(cfg.Events)
	if err != nil {
		logging.WarnWithContext(logger, "event publisher unavailable; continuing without events", "events_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check events.nats_url"),
		)
		publisher = events.Nop{}
	}
	defer publisher.Close()

	var b backend.Backend
	if !opts.dryRun {
		if b, err = backend.New(kind, cfg, logger); err != nil {
			return err
		}
	}

	dispatchOpts := dispatch.OptionsFromConfig(cfg)
	dispatchOpts.DryRun = opts.dryRun
	d := dispatch.New(dispatchOpts, pipeline.GlobalsFromConfig(cfg), logger,
		dispatch.WithRecorder(store),
		dispatch.WithPublisher(publisher),
	)
	result, dispatchErr := d.Dispatch(runCtx, m, stages, b)

	if opts.dryRun {
		printPlan(out, result)
	} else {
		printSubmitted(out, result)
	}
	for _, failure := range result.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "dispatch %s: %v\n", failure.Kind, failure)
	}

	// Local jobs run inside this process; leaving early would kill them.
	if waiter, ok := b.(backend.Waiter); ok && len(result.Jobs) > 0 {
		fmt.Fprintf(out, "Waiting for %d local jobs...\n", len(result.Jobs))
		if err := waiter.Wait(runCtx); err != nil {
			return err
		}
		if opts.wait {
			reconciler := reconcile.New(reconcile.MarkersFromConfig(cfg.Reconcile), logger)
			report, err := api.NewRunService(store, reconciler).Report(context.WithoutCancel(runCtx), result.RunID)
			if err != nil {
				return err
			}
			publishOutcomes(runCtx, publisher, report)
			fmt.Fprintln(out)
			renderReport(out, report, shouldColorize(out))
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d samples failed", report.Failed, len(report.Samples))
			}
		}
	} else if opts.wait && !opts.dryRun {
		fmt.Fprintln(out, "Jobs were handed to the scheduler; run `imcflow status` to reconcile them.")
	}

	if dispatchErr != nil {
		return dispatchErr
	}
	if !result.OK() {
		return fmt.Errorf("%d of %d samples could not be fully dispatched", failedSamples(result), len(m.Samples))
	}
	return nil
}

func printPlan(out io.Writer, result dispatch.Result) {
	for _, planned := range result.Planned {
		fmt.Fprintf(out, "# %s/%s -> %s\n%s\n", planned.Sample, planned.Stage, planned.ExpectedOutput, planned.Line)
	}
	fmt.Fprintf(out, "%d commands planned, %d skipped, %d failed\n", len(result.Planned), len(result.Skipped), len(result.Failures))
}

func printSubmitted(out io.Writer, result dispatch.Result) {
	if len(result.Jobs) > 0 {
		rows := make([][]string, 0, len(result.Jobs))
		for _, job := range result.Jobs {
			rows = append(rows, []string{job.Sample(), job.Stage(), job.Receipt().String(), job.LogPath()})
		}
		fmt.Fprintln(out, renderTable(tableSpec{
			headers: []string{"Sample", "Stage", "Receipt", "Log"},
			rows:    rows,
		}))
	}
	for _, skip := range result.Skipped {
		fmt.Fprintf(out, "skipped %s/%s: %s exists\n", skip.Sample, skip.Stage, skip.ExpectedOutput)
	}
	fmt.Fprintf(out, "Run %s: %d jobs submitted, %d skipped, %d failed\n",
		result.RunID, len(result.Jobs), len(result.Skipped), len(result.Failures))
}

func failedSamples(result dispatch.Result) int {
	seen := make(map[string]struct{}, len(result.Failures))
	for _, f := range result.Failures {
		seen[f.Sample] = struct{}{}
	}
	return len(seen)
}
