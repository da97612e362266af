package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imcflow/internal/pipeline"
	"imcflow/internal/testsupport"
)

func testResources() pipeline.Resources {
	return pipeline.Resources{CPUs: 1, MemoryMB: 256, WallTime: time.Minute}
}

func TestLocalSequentialRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(LocalOptions{}, nil)
	logPath := filepath.Join(dir, "logs", "S1.segmentation.log")

	receipt, err := local.Submit(context.Background(), Submission{
		Name:      "S1.segmentation",
		Command:   "echo segmenting $IMCFLOW_JOB_NAME with $IMCFLOW_CPUS",
		Resources: testResources(),
		LogPath:   logPath,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if receipt.String() != "local:1" {
		t.Fatalf("unexpected receipt %q", receipt)
	}
	log := testsupport.ReadText(t, logPath)
	if !strings.Contains(log, "segmenting S1.segmentation with 1") {
		t.Fatalf("command output missing from log: %q", log)
	}
	if !strings.Contains(log, "finished in") || strings.Contains(log, "Error") {
		t.Fatalf("unexpected log contents: %q", log)
	}
}

func TestLocalWritesTerminalMarkers(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wall    time.Duration
		want    string
	}{
		{name: "non-zero exit", command: "echo partial; exit 3", wall: time.Minute, want: "Error: job"},
		{name: "killed", command: "kill -9 $$", wall: time.Minute, want: "Killed"},
		{name: "time limit", command: "sleep 5", wall: 200 * time.Millisecond, want: "DUE TO TIME LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "job.log")
			res := testResources()
			res.WallTime = tt.wall
			local := NewLocal(LocalOptions{}, nil)
			if _, err := local.Submit(context.Background(), Submission{
				Name: "S1.seg", Command: tt.command, Resources: res, LogPath: logPath,
			}); err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}
			if log := testsupport.ReadText(t, logPath); !strings.Contains(log, tt.want) {
				t.Fatalf("expected %q in log %q", tt.want, log)
			}
		})
	}
}

func TestLocalLogLinesOmitJobName(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "job.log")
	local := NewLocal(LocalOptions{}, nil)
	if _, err := local.Submit(context.Background(), Submission{
		Name:      "Error_Killed_ROI1.quantification",
		Command:   "true",
		Resources: testResources(),
		LogPath:   logPath,
	}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	log := testsupport.ReadText(t, logPath)
	if strings.Contains(log, "Error") || strings.Contains(log, "Killed") {
		t.Fatalf("job name leaked marker words into log: %q", log)
	}
	if !strings.Contains(log, "finished in") {
		t.Fatalf("missing completion line: %q", log)
	}
}

func TestLocalTimeLimitKillsProcessGroup(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "job.log")
	local := NewLocal(LocalOptions{}, nil)
	res := testResources()
	res.WallTime = 200 * time.Millisecond
	if _, err := local.Submit(context.Background(), Submission{
		Name:      "S1.segmentation",
		Command:   "(sleep 1; echo orphan-output) & wait",
		Resources: res,
		LogPath:   logPath,
	}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	log := testsupport.ReadText(t, logPath)
	if !strings.Contains(log, "DUE TO TIME LIMIT") {
		t.Fatalf("expected time limit marker, got %q", log)
	}
	if strings.Contains(log, "orphan-output") {
		t.Fatalf("background child outlived the time limit: %q", log)
	}
}

func TestLocalParallelHonoursDependencies(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(LocalOptions{MaxParallel: 4}, nil)
	ctx := context.Background()
	marker := filepath.Join(dir, "S1_mask.tiff")

	seg, err := local.Submit(ctx, Submission{
		Name:      "S1.segmentation",
		Command:   "sleep 0.2; touch " + marker,
		Resources: testResources(),
		LogPath:   filepath.Join(dir, "S1.segmentation.log"),
	})
	if err != nil {
		t.Fatalf("submit segmentation: %v", err)
	}
	if _, err := local.Submit(ctx, Submission{
		Name:      "S1.quantification",
		Command:   "test -f " + marker + " && echo mask present",
		Resources: testResources(),
		LogPath:   filepath.Join(dir, "S1.quantification.log"),
		After:     seg,
	}); err != nil {
		t.Fatalf("submit quantification: %v", err)
	}

	failed, err := local.Submit(ctx, Submission{
		Name:      "S2.segmentation",
		Command:   "exit 1",
		Resources: testResources(),
		LogPath:   filepath.Join(dir, "S2.segmentation.log"),
	})
	if err != nil {
		t.Fatalf("submit failing segmentation: %v", err)
	}
	if _, err := local.Submit(ctx, Submission{
		Name:      "S2.quantification",
		Command:   "echo should not run",
		Resources: testResources(),
		LogPath:   filepath.Join(dir, "S2.quantification.log"),
		After:     failed,
	}); err != nil {
		t.Fatalf("submit dependent quantification: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := local.Wait(waitCtx); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	if log := testsupport.ReadText(t, filepath.Join(dir, "S1.quantification.log")); !strings.Contains(log, "mask present") {
		t.Fatalf("dependent job ran before its predecessor finished: %q", log)
	}
	log := testsupport.ReadText(t, filepath.Join(dir, "S2.quantification.log"))
	if !strings.Contains(log, "Cancelled by dependency") || strings.Contains(log, "should not run") {
		t.Fatalf("expected cancellation marker only, got %q", log)
	}
}

func TestLocalRejectsInvalidSubmissions(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(LocalOptions{}, nil)
	valid := Submission{Name: "S1.seg", Command: "true", Resources: testResources(), LogPath: filepath.Join(dir, "a.log")}

	noMemory := valid
	noMemory.Resources.MemoryMB = 0
	unknownDep := valid
	unknownDep.After = Receipt{Kind: KindLocal, ID: "99"}
	foreignDep := valid
	foreignDep.After = Receipt{Kind: KindCluster, ID: "1234"}
	emptyCommand := valid
	emptyCommand.Command = " "

	for name, sub := range map[string]Submission{
		"memory":        noMemory,
		"unknown dep":   unknownDep,
		"foreign dep":   foreignDep,
		"empty command": emptyCommand,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := local.Submit(context.Background(), sub)
			if !errors.Is(err, ErrSubmission) {
				t.Fatalf("expected ErrSubmission, got %v", err)
			}
			var serr *SubmissionError
			if !errors.As(err, &serr) || serr.Backend != KindLocal || serr.Job != "S1.seg" {
				t.Fatalf("unexpected error %#v", err)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(dir, "a.log")); !os.IsNotExist(err) {
		t.Fatalf("rejected submissions must not create a log: %v", err)
	}
}
