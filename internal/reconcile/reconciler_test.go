package reconcile_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"imcflow/internal/backend"
	"imcflow/internal/config"
	"imcflow/internal/jobs"
	"imcflow/internal/pipeline"
	"imcflow/internal/reconcile"
	"imcflow/internal/testsupport"
)

func newJob(dir, sample, stage string, ordinal int) jobs.Job {
	return jobs.New(jobs.Spec{
		RunID:          "run-1",
		Sample:         sample,
		Stage:          stage,
		Ordinal:        ordinal,
		Backend:        backend.KindLocal,
		LogPath:        filepath.Join(dir, "submission", sample+"."+stage+".log"),
		ExpectedOutput: filepath.Join(dir, "processed", sample, stage+".out"),
	})
}

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		log    string
		output bool
		noLog  bool
		want   reconcile.Outcome
	}{
		{name: "no log", noLog: true, want: reconcile.Pending},
		{name: "no log but output", noLog: true, output: true, want: reconcile.Pending},
		{name: "running", log: "step 1 of 3\n", want: reconcile.Pending},
		{name: "succeeded", log: "done\n", output: true, want: reconcile.Succeeded},
		{name: "tool error", log: "Error: could not open project\n", output: true, want: reconcile.Failed},
		{name: "traceback", log: "Traceback (most recent call last):\n  File x\n", want: reconcile.Failed},
		{name: "killed beats error", log: "Error: worker died\n/var/spool/job: line 3: 42 Killed run_ilastik.sh\n", want: reconcile.Killed},
		{name: "killed with output present", log: "Killed\n", output: true, want: reconcile.Killed},
		{name: "oom", log: "slurmstepd: error: Detected 1 oom-kill event(s) in StepId=12.batch\n", want: reconcile.Killed},
		{name: "scheduler timeout line", log: "slurmstepd: error: *** JOB 12 ON n1 CANCELLED AT 2026-01-01T00:00:00 DUE TO TIME LIMIT ***\n", want: reconcile.TimedOut},
		{name: "scancel", log: "slurmstepd: error: *** JOB 12 ON n1 CANCELLED AT 2026-01-01T00:00:00 ***\n", want: reconcile.Cancelled},
		{name: "cancelled beats timeout", log: "*** JOB 1 CANCELLED AT t DUE TO TIME LIMIT ***\n*** JOB 1 CANCELLED AT t ***\n", want: reconcile.Cancelled},
		{name: "timeout beats error", log: "Error: partial\n*** JOB 1 CANCELLED AT t DUE TO TIME LIMIT ***\n", want: reconcile.TimedOut},
	}

	r := reconcile.New(reconcile.DefaultMarkers(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			job := newJob(dir, "S1", "segmentation", 1)
			if !tt.noLog {
				testsupport.WriteText(t, job.LogPath(), tt.log)
			}
			if tt.output {
				testsupport.WriteFile(t, job.ExpectedOutput(), 8)
			}
			if got := r.Classify(job); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	js := []jobs.Job{
		newJob(dir, "S1", "segmentation", 1),
		newJob(dir, "S1", "quantification", 2),
		newJob(dir, "S2", "segmentation", 1),
	}
	testsupport.WriteText(t, js[0].LogPath(), "ok\n")
	testsupport.WriteFile(t, js[0].ExpectedOutput(), 4)
	testsupport.WriteText(t, js[1].LogPath(), "Killed\n")

	r := reconcile.New(reconcile.DefaultMarkers(), nil)
	first := r.Reconcile(js)
	second := r.Reconcile(js)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reconcile not idempotent: %v vs %v", first, second)
	}
	want := map[jobs.Key]reconcile.Outcome{
		{Sample: "S1", Stage: "segmentation"}:   reconcile.Succeeded,
		{Sample: "S1", Stage: "quantification"}: reconcile.Killed,
		{Sample: "S2", Stage: "segmentation"}:   reconcile.Pending,
	}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("Reconcile = %v, want %v", first, want)
	}
}

func TestMarkersFromConfigOverrides(t *testing.T) {
	markers := reconcile.MarkersFromConfig(config.Reconcile{FailedMarkers: []string{"FATAL"}})
	r := reconcile.New(markers, nil)
	dir := t.TempDir()
	job := newJob(dir, "S1", "segmentation", 1)
	testsupport.WriteText(t, job.LogPath(), "Error: tolerated warning\n")
	testsupport.WriteFile(t, job.ExpectedOutput(), 4)
	if got := r.Classify(job); got != reconcile.Succeeded {
		t.Fatalf("override should replace default failed markers, got %s", got)
	}
	testsupport.WriteText(t, job.LogPath(), "FATAL: bad input\nKilled\n")
	if got := r.Classify(job); got != reconcile.Killed {
		t.Fatalf("default killed markers should remain, got %s", got)
	}
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	js := []jobs.Job{
		newJob(dir, "S2", "segmentation", 1),
		newJob(dir, "S2", "quantification", 2),
		newJob(dir, "S1", "segmentation", 1),
		newJob(dir, "S1", "quantification", 2),
		newJob(dir, "S3", "segmentation", 1),
	}
	outcomes := map[jobs.Key]reconcile.Outcome{
		js[0].Key(): reconcile.Succeeded,
		js[1].Key(): reconcile.Succeeded,
		js[2].Key(): reconcile.Failed,
		js[3].Key(): reconcile.Cancelled,
		js[4].Key(): reconcile.Succeeded,
	}
	summary := reconcile.Summarize(js[:4], nil, outcomes)
	if len(summary.Samples) != 2 || summary.Samples[0].Sample != "S2" || summary.Samples[1].Sample != "S1" {
		t.Fatalf("unexpected sample order %+v", summary.Samples)
	}
	if summary.Samples[0].Status != reconcile.SampleSucceeded || summary.Samples[1].Status != reconcile.SampleFailed {
		t.Fatalf("unexpected statuses %+v", summary.Samples)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 || summary.Pending != 0 {
		t.Fatalf("unexpected totals %+v", summary)
	}
	if summary.Counts[reconcile.Succeeded] != 2 || summary.Counts[reconcile.Cancelled] != 1 {
		t.Fatalf("unexpected counts %v", summary.Counts)
	}

	partial := reconcile.Summarize(js[:2], nil, map[jobs.Key]reconcile.Outcome{js[0].Key(): reconcile.Succeeded})
	if partial.Samples[0].Status != reconcile.SamplePending {
		t.Fatalf("sample with unfinished final stage should be pending, got %s", partial.Samples[0].Status)
	}
}

func TestSummarizeCountsSkippedStages(t *testing.T) {
	dir := t.TempDir()
	quant := newJob(dir, "S1", "quantification", 2)
	completed := []reconcile.Completed{
		{Sample: "S1", Stage: "segmentation", Ordinal: 1, ExpectedOutput: filepath.Join(dir, "processed", "S1", "segmentation.out")},
		{Sample: "S2", Stage: "segmentation", Ordinal: 1, ExpectedOutput: filepath.Join(dir, "processed", "S2", "segmentation.out")},
		{Sample: "S2", Stage: "quantification", Ordinal: 2, ExpectedOutput: filepath.Join(dir, "processed", "S2", "quantification.out")},
	}
	testsupport.WriteText(t, completed[0].ExpectedOutput, "mask")
	testsupport.WriteText(t, completed[1].ExpectedOutput, "mask")
	testsupport.WriteText(t, completed[2].ExpectedOutput, "cells")
	testsupport.WriteText(t, quant.LogPath(), "done\n")
	testsupport.WriteText(t, quant.ExpectedOutput(), "cells")

	r := reconcile.New(reconcile.DefaultMarkers(), nil)
	outcomes := r.Reconcile([]jobs.Job{quant})
	for key, outcome := range r.ReconcileCompleted(completed) {
		outcomes[key] = outcome
	}
	summary := reconcile.Summarize([]jobs.Job{quant}, completed, outcomes)
	if summary.Succeeded != 2 || summary.Failed != 0 || summary.Pending != 0 {
		t.Fatalf("unexpected totals %+v", summary)
	}
	if summary.Counts[reconcile.Succeeded] != 4 {
		t.Fatalf("unexpected counts %v", summary.Counts)
	}
	s1 := summary.Samples[0]
	if s1.Sample != "S1" || len(s1.Stages) != 2 || s1.Stages[0].Stage != "segmentation" || !s1.Stages[0].Skipped || s1.Stages[1].Skipped {
		t.Fatalf("unexpected S1 stages %+v", s1.Stages)
	}

	if err := os.Remove(completed[2].ExpectedOutput); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := r.ClassifyCompleted(completed[2]); got != reconcile.Pending {
		t.Fatalf("ClassifyCompleted after removal = %s, want pending", got)
	}
}

func TestClassifiesLocalBackendLogs(t *testing.T) {
	dir := t.TempDir()
	local := backend.NewLocal(backend.LocalOptions{}, nil)
	r := reconcile.New(reconcile.DefaultMarkers(), nil)

	tests := []struct {
		name    string
		command string
		wall    time.Duration
		want    reconcile.Outcome
	}{
		{name: "ok", command: "touch %OUT%", wall: time.Minute, want: reconcile.Succeeded},
		{name: "Error_Killed_ROI1", command: "touch %OUT%", wall: time.Minute, want: reconcile.Succeeded},
		{name: "exit", command: "touch %OUT%; exit 2", wall: time.Minute, want: reconcile.Failed},
		{name: "kill", command: "kill -9 $$", wall: time.Minute, want: reconcile.Killed},
		{name: "timeout", command: "sleep 5", wall: 200 * time.Millisecond, want: reconcile.TimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(dir, tt.name, "segmentation", 1)
			testsupport.WriteText(t, filepath.Join(filepath.Dir(job.ExpectedOutput()), ".keep"), "")
			cmd := strings.ReplaceAll(tt.command, "%OUT%", job.ExpectedOutput())
			if _, err := local.Submit(context.Background(), backend.Submission{
				Name:      tt.name + ".segmentation",
				Command:   cmd,
				Resources: pipeline.Resources{CPUs: 1, MemoryMB: 64, WallTime: tt.wall},
				LogPath:   job.LogPath(),
			}); err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}
			if got := r.Classify(job); got != tt.want {
				t.Fatalf("Classify = %s, want %s; log:\n%s", got, tt.want, testsupport.ReadText(t, job.LogPath()))
			}
		})
	}
}
