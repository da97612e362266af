package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imcflow/internal/api"
	"imcflow/internal/ledger"
)

func TestRunDryRunPrintsPlan(t *testing.T) {
	env := setupCLITestEnv(t, "S1", "S2")

	out, _, err := runCLI(t, []string{"run", "--dry-run"}, env.configPath)
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	requireContains(t, out, "# S1/segmentation")
	requireContains(t, out, "# S2/quantification")
	requireContains(t, out, "run_ilastik.sh")
	requireContains(t, out, "4 commands planned, 0 skipped, 0 failed")

	logs, err := filepath.Glob(filepath.Join(env.cfg.Paths.LogDir, "*", "*.log"))
	if err != nil || len(logs) != 0 {
		t.Fatalf("dry run should not create job logs, got %v (%v)", logs, err)
	}
}

func TestRunLocalThenStatus(t *testing.T) {
	env := setupCLITestEnv(t, "S1", "S2")

	out, stderr, err := runCLI(t, []string{"run", "--skip-checks", "--wait", "--max-parallel", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\nstdout:\n%s\nstderr:\n%s", err, out, stderr)
	}
	requireContains(t, out, "4 jobs submitted, 0 skipped, 0 failed")
	requireContains(t, out, "2 succeeded, 0 failed, 0 pending of 2 samples")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "2 succeeded, 0 failed, 0 pending of 2 samples")
	requireContains(t, out, "jobs: succeeded=4")

	out, _, err = runCLI(t, []string{"jobs", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs --json: %v", err)
	}
	var jobs api.JobListResponse
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode jobs: %v\n%s", err, out)
	}
	if len(jobs.Jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(jobs.Jobs))
	}
	for _, job := range jobs.Jobs {
		if job.Outcome != "succeeded" {
			t.Fatalf("job %s/%s outcome %s", job.Sample, job.Stage, job.Outcome)
		}
	}

	out, _, err = runCLI(t, []string{"run", "--skip-checks"}, env.configPath)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	requireContains(t, out, "0 jobs submitted, 4 skipped, 0 failed")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status after rerun: %v\n%s", err, out)
	}
	requireContains(t, out, "2 succeeded, 0 failed, 0 pending of 2 samples")
	requireContains(t, out, "succeeded (skipped)")

	if _, _, err = runCLI(t, []string{"run", "--dry-run"}, env.configPath); err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status after dry run: %v\n%s", err, out)
	}
	requireContains(t, out, "2 succeeded, 0 failed, 0 pending of 2 samples")

	out, _, err = runCLI(t, []string{"runs", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("runs --json: %v", err)
	}
	var runs api.RunListResponse
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out)
	}
	if len(runs.Runs) != 3 || !runs.Runs[0].DryRun {
		t.Fatalf("expected 3 recorded runs with the dry run newest, got %+v", runs.Runs)
	}
}

func TestRunReportsFailedSamples(t *testing.T) {
	env := setupCLITestEnv(t, "S1")

	_, _, err := runCLI(t, []string{"run", "--skip-checks", "--wait", "--quant-invocation", "false"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail when quantification exits non-zero")
	}
	if !strings.Contains(err.Error(), "1 of 1 samples failed") {
		t.Fatalf("unexpected error %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err == nil {
		t.Fatal("status should exit non-zero for failed samples")
	}
	requireContains(t, out, "0 succeeded, 1 failed")
}

func TestRunRejectsDuplicateSamplesBeforeDispatch(t *testing.T) {
	env := setupCLITestEnv(t, "S1", "S2", "S1")

	out, _, err := runCLI(t, []string{"run", "--skip-checks"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail on a duplicate sample")
	}
	requireContains(t, err.Error(), "S1")
	if strings.Contains(out, "jobs submitted") {
		t.Fatalf("nothing should be dispatched, got:\n%s", out)
	}

	store, err := ledger.OpenPath(env.cfg.Paths.LedgerPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	runs, err := store.Runs(context.Background(), 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("a rejected manifest must not record a run, got %+v", runs)
	}
	logs, _ := filepath.Glob(filepath.Join(env.cfg.Paths.LogDir, "*", "*.log"))
	if len(logs) != 0 {
		t.Fatalf("a rejected manifest must not start jobs, got logs %v", logs)
	}
}

func TestRunRequiresManifest(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "--dry-run", "--manifest", filepath.Join(env.baseDir, "missing.csv")}, env.configPath)
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestCheckFailsWithoutModel(t *testing.T) {
	env := setupCLITestEnv(t, "S1")
	if err := os.Remove(env.cfg.Segmentation.ModelPath); err != nil {
		t.Fatalf("remove model: %v", err)
	}

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err == nil {
		t.Fatal("expected check to fail without a segmentation model")
	}
	requireContains(t, out, "Segmentation model:")
	requireContains(t, out, "[ERROR]")
	requireContains(t, out, "1 samples")
}

func TestRunRefusesMissingInputs(t *testing.T) {
	env := setupCLITestEnv(t, "S1", "S2")
	if err := os.Remove(filepath.Join(env.baseDir, "raw", "S2.mcd")); err != nil {
		t.Fatalf("remove input: %v", err)
	}

	out, _, err := runCLI(t, []string{"run", "--skip-checks"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail when an input is missing")
	}
	requireContains(t, err.Error(), "S2")
	if strings.Contains(out, "jobs submitted") {
		t.Fatalf("nothing should be dispatched, got:\n%s", out)
	}
}
