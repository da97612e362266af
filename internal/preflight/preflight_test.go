package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imcflow/internal/backend"
	"imcflow/internal/config"
	"imcflow/internal/manifest"
	"imcflow/internal/pipeline"
	"imcflow/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFileReadable(t *testing.T) {
	dir := t.TempDir()
	model := testsupport.WriteText(t, filepath.Join(dir, "classifier.ilp"), "ilp")
	if r := CheckFileReadable("model", model); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckFileReadable("model", dir); r.Passed || !strings.Contains(r.Detail, "is a directory") {
		t.Fatalf("expected directory failure, got %+v", r)
	}
	if r := CheckFileReadable("model", ""); r.Passed {
		t.Fatal("expected failure for unset path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if r := CheckFreeSpace("space", dir, 1); !r.Passed {
		t.Fatalf("expected pass with a one byte minimum, got %s", r.Detail)
	}
	if r := CheckFreeSpace("space", dir, 1<<62); r.Passed || !strings.Contains(r.Detail, "need") {
		t.Fatalf("expected failure with an impossible minimum, got %+v", r)
	}
	if r := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); r.Passed {
		t.Fatal("expected failure for a missing path")
	}
}

func TestCheckNATSUnreachableIsOptional(t *testing.T) {
	r := CheckNATS(context.Background(), config.Events{NATSURL: "nats://127.0.0.1:1", TimeoutSeconds: 1})
	if r.Passed || !r.Optional {
		t.Fatalf("expected optional failure, got %+v", r)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil, nil, backend.KindLocal); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_LocalProject(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	testsupport.WriteProject(t, base, "S1", "S2")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	m, err := manifest.Load(cfg.Manifest.Path, cfg.Manifest.PanelPath, manifest.OptionsFromConfig(cfg.Manifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	stages, err := pipeline.Stages(cfg)
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}

	results := RunAll(context.Background(), cfg, m, stages, backend.KindLocal)
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{
		"Processed directory", "Log directory", "Segmentation model",
		"Quantification pipeline", "Sample inputs", "Shell",
		pipeline.StageSegmentation, pipeline.StageQuantification,
	} {
		r, ok := byName[name]
		if !ok {
			t.Fatalf("missing check %q in %+v", name, results)
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", name, r.Detail)
		}
	}
	if _, ok := byName["Event bus"]; ok {
		t.Fatal("event bus should only be checked when configured")
	}

	if err := os.Remove(filepath.Join(base, "raw", "S2.mcd")); err != nil {
		t.Fatal(err)
	}
	results = RunAll(context.Background(), cfg, m, stages, backend.KindLocal)
	blocking := Blocking(results)
	found := false
	for _, r := range blocking {
		if r.Name == "Sample inputs" && strings.Contains(r.Detail, "S2") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing input should block the run, got %+v", blocking)
	}
}
