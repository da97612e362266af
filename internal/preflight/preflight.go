package preflight

import (
	"context"
	"strings"

	"imcflow/internal/backend"
	"imcflow/internal/config"
	"imcflow/internal/deps"
	"imcflow/internal/manifest"
	"imcflow/internal/pipeline"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional failures are reported but do not block a run.
	Optional bool
	Detail   string
}

// RunAll executes the checks that apply to a dispatch of stages on kind. m
// may be nil when no manifest has been loaded.
func RunAll(ctx context.Context, cfg *config.Config, m *manifest.Manifest, stages []pipeline.Stage, kind backend.Kind) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Processed directory", cfg.Paths.ProcessedDir))
	results = append(results, CheckFreeSpace("Processed directory space", cfg.Paths.ProcessedDir, MinFreeBytes))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if usesTemplateKey(stages, ".Model") {
		results = append(results, CheckFileReadable("Segmentation model", cfg.Segmentation.ModelPath))
	}
	if usesTemplateKey(stages, ".PipelinePath") {
		results = append(results, CheckFileReadable("Quantification pipeline", cfg.Quantification.PipelinePath))
	}
	if m != nil {
		results = append(results, CheckInputs(m))
	}

	shell := backend.DefaultLocalShell
	if kind == backend.KindCluster {
		shell = cfg.Cluster.Shell
	}
	for _, status := range deps.CheckBinaries(deps.ForRun(stages, kind, cfg.Cluster.SubmitCommand, shell)) {
		results = append(results, fromStatus(status))
	}

	if strings.TrimSpace(cfg.Events.NATSURL) != "" {
		results = append(results, CheckNATS(ctx, cfg.Events))
	}

	return results
}

// Blocking returns the failed checks that are not optional.
func Blocking(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

func usesTemplateKey(stages []pipeline.Stage, key string) bool {
	for _, stage := range stages {
		if strings.Contains(stage.Command, key) || strings.Contains(stage.Output, key) {
			return true
		}
	}
	return false
}

func fromStatus(status deps.Status) Result {
	r := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
	switch {
	case status.Available:
		r.Detail = status.Path
	case status.Optional:
		r.Detail = status.Detail + " (optional)"
	default:
		r.Detail = status.Detail
	}
	return r
}
