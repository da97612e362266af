package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"imcflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ProjectDir = base
	cfgVal.Paths.ProcessedDir = filepath.Join(base, "processed")
	cfgVal.Paths.LogDir = filepath.Join(base, "submission")
	cfgVal.Paths.LedgerPath = filepath.Join(base, "submission", "imcflow.db")
	cfgVal.Manifest.Path = filepath.Join(base, "metadata", "samples.csv")
	cfgVal.Manifest.PanelPath = filepath.Join(base, "metadata", "panel.csv")
	cfgVal.Segmentation.ModelPath = filepath.Join(base, "models", "classifier.ilp")
	cfgVal.Quantification.PipelinePath = filepath.Join(base, "pipelines", "quant.cppipe")
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the backend kind on the test config.
func WithBackend(kind string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.Kind = kind
	}
}

// WithMaxParallel sets the local parallelism on the test config.
func WithMaxParallel(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.MaxParallel = n
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external tools are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Segmentation.Executable, b.cfg.Quantification.Invocation, b.cfg.Cluster.SubmitCommand}
		}
		stubs := make(map[string]string, len(names))
		for _, name := range names {
			stubs[name] = "exit 0\n"
		}
		installStubs(b.t, filepath.Join(b.baseDir, "bin"), stubs)
	}
}

// WithStubScript installs a named executable with the given shell body on PATH.
func WithStubScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		installStubs(b.t, filepath.Join(b.baseDir, "bin"), map[string]string{name: body})
	}
}

// InstallStub writes a single stub executable into dir and prepends dir to PATH.
func InstallStub(t testing.TB, dir, name, body string) string {
	t.Helper()
	installStubs(t, dir, map[string]string{name: body})
	return filepath.Join(dir, name)
}

func installStubs(t testing.TB, binDir string, stubs map[string]string) {
	t.Helper()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	for name, body := range stubs {
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.ProjectDir
}
