package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imcflow/internal/config"
	"imcflow/internal/testsupport"
)

const segmentationStub = `for arg in "$@"; do
  case "$arg" in
    --output_filename_format=*) out="${arg#--output_filename_format=}" ;;
  esac
done
echo "writing probabilities to $out"
touch "$out"
`

const quantificationStub = `while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
  esac
  shift
done
sample="${IMCFLOW_JOB_NAME%.quantification}"
touch "$out/${sample}_quantification.csv"
`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, samples ...string) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("run_ilastik.sh", segmentationStub),
		testsupport.WithStubScript("cellprofiler", quantificationStub),
		testsupport.WithStubbedBinaries("sbatch"),
	)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	if len(samples) > 0 {
		testsupport.WriteProject(t, base, samples...)
	}

	configPath := filepath.Join(base, "imcflow.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
