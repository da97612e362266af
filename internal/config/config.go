package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend kinds accepted by [backend].kind.
const (
	BackendLocal   = "local"
	BackendCluster = "cluster"
)

// Paths contains directory configuration for a project.
type Paths struct {
	ProjectDir   string `toml:"project_dir"`
	ProcessedDir string `toml:"processed_dir"`
	LogDir       string `toml:"log_dir"`
	LedgerPath   string `toml:"ledger_path"`
}

// Manifest describes where the sample and panel tables live and which
// columns carry the fields the loader needs.
type Manifest struct {
	Path          string `toml:"path"`
	PanelPath     string `toml:"panel_path"`
	SampleColumn  string `toml:"sample_column"`
	InputColumn   string `toml:"input_column"`
	PanelColumn   string `toml:"panel_column"`
	ExcludeColumn string `toml:"exclude_column"`
	ToggleColumn  string `toml:"toggle_column"`
}

// Backend selects the execution target and dispatch policy.
type Backend struct {
	Kind              string `toml:"kind"`
	MaxParallel       int    `toml:"max_parallel"`
	ChainDependencies bool   `toml:"chain_dependencies"`
	SkipCompleted     bool   `toml:"skip_completed"`
}

// Cluster contains scheduler submission settings.
type Cluster struct {
	SubmitCommand string   `toml:"submit_command"`
	SubmitArgs    []string `toml:"submit_args"`
	Partition     string   `toml:"partition"`
	Directives    []string `toml:"directives"`
	ScriptDir     string   `toml:"script_dir"`
	Shell         string   `toml:"shell"`
}

// Resources is the per-stage resource envelope as written in config.
// WallTime accepts Go durations ("90m") or scheduler clock values
// ("01:30:00", "1-00:00:00").
type Resources struct {
	CPUs     int    `toml:"cpus"`
	MemoryMB int    `toml:"memory_mb"`
	WallTime string `toml:"wall_time"`
}

// Segmentation configures the segmentation stage.
type Segmentation struct {
	Executable string            `toml:"executable"`
	ModelPath  string            `toml:"model_path"`
	Params     map[string]string `toml:"params"`
	Resources  Resources         `toml:"resources"`
}

// Quantification configures the quantification stage.
type Quantification struct {
	Invocation   string            `toml:"invocation"`
	PipelinePath string            `toml:"pipeline_path"`
	Params       map[string]string `toml:"params"`
	Resources    Resources         `toml:"resources"`
}

// Stages points at an optional YAML stage file replacing the built-in stages.
type Stages struct {
	File string `toml:"file"`
}

// Reconcile overrides the log markers used for outcome classification.
// Empty lists keep the built-in markers.
type Reconcile struct {
	KilledMarkers    []string `toml:"killed_markers"`
	CancelledMarkers []string `toml:"cancelled_markers"`
	TimeoutMarkers   []string `toml:"timeout_markers"`
	FailedMarkers    []string `toml:"failed_markers"`
}

// Events configures the optional NATS event publisher.
type Events struct {
	NATSURL        string `toml:"nats_url"`
	SubjectPrefix  string `toml:"subject_prefix"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// API configures the read-only status server.
type API struct {
	Bind string `toml:"bind"`
	// Token, when set, is required as "Authorization: Bearer <token>".
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for imcflow.
//
// Configuration sections by subsystem:
//   - Paths: project, processed output, submission log and ledger locations
//   - Manifest: sample/panel tables and their column names
//   - Backend: local vs cluster execution and dispatch policy
//   - Cluster: scheduler submission command and directives
//   - Segmentation / Quantification: tool invocation and resources per stage
//   - Stages: optional YAML stage definitions
//   - Reconcile: log marker overrides
//   - Events: NATS publishing
//   - API: status server bind address
//   - Logging: log format and level
type Config struct {
	Paths          Paths          `toml:"paths"`
	Manifest       Manifest       `toml:"manifest"`
	Backend        Backend        `toml:"backend"`
	Cluster        Cluster        `toml:"cluster"`
	Segmentation   Segmentation   `toml:"segmentation"`
	Quantification Quantification `toml:"quantification"`
	Stages         Stages         `toml:"stages"`
	Reconcile      Reconcile      `toml:"reconcile"`
	Events         Events         `toml:"events"`
	API            API            `toml:"api"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/imcflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv populates unset environment variables from a .env file.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("imcflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the processed output and submission log trees.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.ProcessedDir, c.Paths.LogDir, c.ScriptDir()}
	if ledgerDir := filepath.Dir(c.Paths.LedgerPath); ledgerDir != "" && ledgerDir != "." {
		dirs = append(dirs, ledgerDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ScriptDir returns the directory receiving rendered scheduler scripts.
func (c *Config) ScriptDir() string {
	if strings.TrimSpace(c.Cluster.ScriptDir) != "" {
		return c.Cluster.ScriptDir
	}
	return filepath.Join(c.Paths.LogDir, "scripts")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// expandUnder expands pathValue, resolving relative values against base.
func expandUnder(base, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if !strings.HasPrefix(pathValue, "~") && !filepath.IsAbs(pathValue) && base != "" {
		pathValue = filepath.Join(base, pathValue)
	}
	return expandPath(pathValue)
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
