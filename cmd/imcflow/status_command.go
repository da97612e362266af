package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"imcflow/internal/api"
	"imcflow/internal/config"
	"imcflow/internal/events"
	"imcflow/internal/logging"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		runID   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Reconcile a run and print the per-sample summary",
		Long: `Classify every job of a run from its log and expected output, then summarise
each sample. Outcomes are derived from the files on disk each time, so status
can be re-run while jobs are still executing. Exits non-zero when any sample
failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunService(func(cfg *config.Config, svc *api.RunService) error {
				report, err := svc.Report(cmd.Context(), runID)
				if err != nil {
					return err
				}
				announceOutcomes(cmd.Context(), ctx, cfg, report)
				if jsonOut {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				} else {
					renderReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d samples failed", report.Failed, len(report.Samples))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", api.LatestRunID, "Run id to reconcile")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the report as JSON")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		runID   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the job records of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunService(func(_ *config.Config, svc *api.RunService) error {
				id, js, err := svc.Jobs(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.JobListResponse{RunID: id, Jobs: js})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(js))
				for _, job := range js {
					rows = append(rows, []string{
						job.Sample,
						job.Stage,
						job.Receipt,
						paint(job.Outcome, statusKindColor(outcomeKind(job.Outcome)), colorize),
						strconv.Itoa(job.CPUs),
						strconv.Itoa(job.MemoryMB),
						job.WallTime,
						job.LogPath,
					})
				}
				fmt.Fprintf(out, "Run %s\n", id)
				fmt.Fprintln(out, renderTable(tableSpec{
					headers: []string{"Sample", "Stage", "Receipt", "Outcome", "CPUs", "Mem (MB)", "Wall", "Log"},
					rows:    rows,
					aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", api.LatestRunID, "Run id to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the jobs as JSON")
	return cmd
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded dispatch runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunService(func(_ *config.Config, svc *api.RunService) error {
				runs, err := svc.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					if runs == nil {
						runs = []api.Run{}
					}
					return writeJSON(cmd, api.RunListResponse{Runs: runs})
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					finished := run.FinishedAt
					if finished == "" {
						finished = "-"
					}
					backend := run.Backend
					if run.DryRun {
						backend += " (dry run)"
					}
					rows = append(rows, []string{
						run.ID,
						backend,
						run.StartedAt,
						finished,
						strconv.Itoa(run.Samples),
						strconv.Itoa(run.Jobs),
						strconv.Itoa(run.Skipped),
						strconv.Itoa(run.Errors),
					})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					headers: []string{"Run", "Backend", "Started", "Finished", "Samples", "Jobs", "Skipped", "Errors"},
					rows:    rows,
					aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the runs as JSON")
	return cmd
}

// announceOutcomes publishes the reconciled outcome of every job when an
// event server is configured.
func announceOutcomes(runCtx context.Context, ctx *commandContext, cfg *config.Config, report *api.Report) {
	publisher, err := events.New(cfg.Events)
	if err != nil {
		logging.WarnWithContext(ctx.log(), "event publisher unavailable", "events_unavailable", logging.Error(err))
		return
	}
	defer publisher.Close()
	publishOutcomes(runCtx, publisher, report)
}

func publishOutcomes(ctx context.Context, publisher events.Publisher, report *api.Report) {
	for _, job := range report.Jobs {
		_ = publisher.Publish(ctx, events.Event{
			Type:    events.TypeJobOutcome,
			RunID:   report.Run.ID,
			Sample:  job.Sample,
			Stage:   job.Stage,
			Backend: job.Backend,
			Receipt: job.Receipt,
			Outcome: job.Outcome,
			LogPath: job.LogPath,
		})
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
