package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateCluster(); err != nil {
		return err
	}
	if err := c.validateResources("segmentation.resources", c.Segmentation.Resources); err != nil {
		return err
	}
	if err := c.validateResources("quantification.resources", c.Quantification.Resources); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackend() error {
	switch c.Backend.Kind {
	case BackendLocal, BackendCluster:
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendLocal, BackendCluster, c.Backend.Kind)
	}
	if c.Backend.MaxParallel < 1 {
		return errors.New("backend.max_parallel must be positive")
	}
	return nil
}

func (c *Config) validateCluster() error {
	if c.Backend.Kind != BackendCluster {
		return nil
	}
	if c.Cluster.SubmitCommand == "" {
		return errors.New("cluster.submit_command must be set when backend.kind is cluster")
	}
	for _, directive := range c.Cluster.Directives {
		if strings.ContainsAny(directive, "\r\n") {
			return fmt.Errorf("cluster.directives entry %q must be a single line", directive)
		}
	}
	return nil
}

func (c *Config) validateResources(key string, res Resources) error {
	if err := ensurePositiveMap(map[string]int{
		key + ".cpus":      res.CPUs,
		key + ".memory_mb": res.MemoryMB,
	}); err != nil {
		return err
	}
	if _, err := ParseWallTime(res.WallTime); err != nil {
		return fmt.Errorf("%s.wall_time: %w", key, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
