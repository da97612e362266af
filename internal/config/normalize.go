package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeManifest(); err != nil {
		return err
	}
	c.normalizeBackend()
	if err := c.normalizeCluster(); err != nil {
		return err
	}
	if err := c.normalizeTools(); err != nil {
		return err
	}
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.ProjectDir) == "" {
		c.Paths.ProjectDir = defaultProjectDir
	}
	if c.Paths.ProjectDir, err = expandPath(c.Paths.ProjectDir); err != nil {
		return fmt.Errorf("paths.project_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ProcessedDir) == "" {
		c.Paths.ProcessedDir = defaultProcessedDir
	}
	if c.Paths.ProcessedDir, err = expandUnder(c.Paths.ProjectDir, c.Paths.ProcessedDir); err != nil {
		return fmt.Errorf("paths.processed_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandUnder(c.Paths.ProjectDir, c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LedgerPath) == "" {
		c.Paths.LedgerPath = filepath.Join(c.Paths.LogDir, defaultLedgerName)
	}
	if c.Paths.LedgerPath, err = expandUnder(c.Paths.ProjectDir, c.Paths.LedgerPath); err != nil {
		return fmt.Errorf("paths.ledger_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeManifest() error {
	var err error
	if c.Manifest.Path, err = expandUnder(c.Paths.ProjectDir, c.Manifest.Path); err != nil {
		return fmt.Errorf("manifest.path: %w", err)
	}
	if c.Manifest.PanelPath, err = expandUnder(c.Paths.ProjectDir, c.Manifest.PanelPath); err != nil {
		return fmt.Errorf("manifest.panel_path: %w", err)
	}
	c.Manifest.SampleColumn = fallback(c.Manifest.SampleColumn, defaultSampleColumn)
	c.Manifest.InputColumn = fallback(c.Manifest.InputColumn, defaultInputColumn)
	c.Manifest.PanelColumn = strings.TrimSpace(c.Manifest.PanelColumn)
	c.Manifest.ExcludeColumn = strings.TrimSpace(c.Manifest.ExcludeColumn)
	c.Manifest.ToggleColumn = strings.TrimSpace(c.Manifest.ToggleColumn)
	return nil
}

func (c *Config) normalizeBackend() {
	if value, ok := os.LookupEnv(envBackend); ok && strings.TrimSpace(value) != "" {
		c.Backend.Kind = value
	}
	c.Backend.Kind = strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	if c.Backend.Kind == "" {
		c.Backend.Kind = defaultBackendKind
	}
	if c.Backend.MaxParallel == 0 {
		c.Backend.MaxParallel = defaultMaxParallel
	}
}

func (c *Config) normalizeCluster() error {
	c.Cluster.SubmitCommand = strings.TrimSpace(c.Cluster.SubmitCommand)
	c.Cluster.Partition = strings.TrimSpace(c.Cluster.Partition)
	c.Cluster.Shell = fallback(c.Cluster.Shell, defaultClusterShell)
	directives := c.Cluster.Directives[:0]
	for _, directive := range c.Cluster.Directives {
		if trimmed := strings.TrimSpace(directive); trimmed != "" {
			directives = append(directives, trimmed)
		}
	}
	c.Cluster.Directives = directives
	var err error
	if c.Cluster.ScriptDir, err = expandUnder(c.Paths.ProjectDir, c.Cluster.ScriptDir); err != nil {
		return fmt.Errorf("cluster.script_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() error {
	if value, ok := os.LookupEnv(envSegmentationExecutableVar); ok && strings.TrimSpace(value) != "" {
		c.Segmentation.Executable = value
	}
	c.Segmentation.Executable = strings.TrimSpace(c.Segmentation.Executable)
	if c.Segmentation.ModelPath == "" {
		if value, ok := os.LookupEnv(envModelPath); ok {
			c.Segmentation.ModelPath = value
		}
	}
	var err error
	if c.Segmentation.ModelPath, err = expandUnder(c.Paths.ProjectDir, c.Segmentation.ModelPath); err != nil {
		return fmt.Errorf("segmentation.model_path: %w", err)
	}

	if value, ok := os.LookupEnv(envQuantInvocation); ok && strings.TrimSpace(value) != "" {
		c.Quantification.Invocation = value
	}
	c.Quantification.Invocation = strings.TrimSpace(c.Quantification.Invocation)
	if c.Quantification.PipelinePath, err = expandUnder(c.Paths.ProjectDir, c.Quantification.PipelinePath); err != nil {
		return fmt.Errorf("quantification.pipeline_path: %w", err)
	}
	if c.Stages.File, err = expandUnder(c.Paths.ProjectDir, c.Stages.File); err != nil {
		return fmt.Errorf("stages.file: %w", err)
	}
	c.Segmentation.Resources.WallTime = strings.TrimSpace(c.Segmentation.Resources.WallTime)
	c.Quantification.Resources.WallTime = strings.TrimSpace(c.Quantification.Resources.WallTime)
	return nil
}

func (c *Config) normalizeEvents() {
	if c.Events.NATSURL == "" {
		if value, ok := os.LookupEnv(envNATSURL); ok {
			c.Events.NATSURL = value
		}
	}
	c.Events.NATSURL = strings.TrimSpace(c.Events.NATSURL)
	c.Events.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Events.SubjectPrefix), ".")
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = defaultEventSubjectPrefix
	}
	if c.Events.TimeoutSeconds <= 0 {
		c.Events.TimeoutSeconds = defaultEventTimeoutSeconds
	}
	c.API.Bind = fallback(c.API.Bind, defaultAPIBind)
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func fallback(value, def string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return def
}
