package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"imcflow/internal/config"
	"imcflow/internal/logging"
)

const (
	defaultSubmitCommand = "sbatch"
	defaultClusterShell  = "/bin/bash"
)

var (
	schedulerIDPattern = regexp.MustCompile(`^[0-9]+(_[0-9]+)?$`)
	submittedPattern   = regexp.MustCompile(`Submitted batch job ([0-9]+)`)
)

// ClusterOptions configures the scheduler backend.
type ClusterOptions struct {
	SubmitCommand string
	SubmitArgs    []string
	Shell         string
	// Directives are extra "#SBATCH" lines, written verbatim after the
	// generated ones (for example "--account=lab" or "--qos=normal").
	Directives []string
	ScriptDir  string
}

// Cluster submits batch scripts to a scheduler.
type Cluster struct {
	opts   ClusterOptions
	logger *slog.Logger
}

// NewCluster builds a scheduler backend.
func NewCluster(opts ClusterOptions, logger *slog.Logger) *Cluster {
	if logger == nil {
		logger = logging.NewNop()
	}
	if strings.TrimSpace(opts.SubmitCommand) == "" {
		opts.SubmitCommand = defaultSubmitCommand
	}
	if strings.TrimSpace(opts.Shell) == "" {
		opts.Shell = defaultClusterShell
	}
	return &Cluster{opts: opts, logger: logging.NewComponentLogger(logger, "backend.cluster")}
}

// Kind returns KindCluster.
func (c *Cluster) Kind() Kind { return KindCluster }

// Submit writes the batch script and runs the submit command. It returns
// once the scheduler has acknowledged the job.
func (c *Cluster) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if err := sub.validate(); err != nil {
		return Receipt{}, submissionError(KindCluster, sub.Name, err)
	}
	if !sub.After.IsZero() && sub.After.Kind != KindCluster {
		return Receipt{}, submissionError(KindCluster, sub.Name, fmt.Errorf("dependency %s is not a scheduler job", sub.After))
	}

	scriptPath, err := c.writeScript(sub)
	if err != nil {
		return Receipt{}, submissionError(KindCluster, sub.Name, err)
	}

	args := append([]string(nil), c.opts.SubmitArgs...)
	if !sub.After.IsZero() {
		args = append(args, "--dependency=afterok:"+sub.After.ID, "--kill-on-invalid-dep=yes")
	}
	args = append(args, scriptPath)

	cmd := commandContext(ctx, c.opts.SubmitCommand, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%s: %w: %s", c.opts.SubmitCommand, err, detail)
		} else {
			err = fmt.Errorf("%s: %w", c.opts.SubmitCommand, err)
		}
		return Receipt{}, submissionError(KindCluster, sub.Name, err)
	}

	id, err := parseSchedulerID(stdout.String())
	if err != nil {
		return Receipt{}, submissionError(KindCluster, sub.Name, err)
	}
	c.logger.Info("job submitted to scheduler",
		logging.String("job", sub.Name),
		logging.String("scheduler_id", id),
		logging.String("script", scriptPath),
	)
	return Receipt{Kind: KindCluster, ID: id}, nil
}

// ScriptPath returns where the batch script for a job is written.
func (c *Cluster) ScriptPath(jobName string) string {
	dir := c.opts.ScriptDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, jobName+".sh")
}

func (c *Cluster) writeScript(sub Submission) (string, error) {
	path := c.ScriptPath(sub.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create script directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sub.LogPath), 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(c.renderScript(sub)), 0o755); err != nil {
		return "", fmt.Errorf("write batch script: %w", err)
	}
	return path, nil
}

func (c *Cluster) renderScript(sub Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#!%s\n", c.opts.Shell)
	directive := func(format string, args ...any) {
		b.WriteString("#SBATCH ")
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	directive("--job-name=%s", sub.Name)
	directive("--cpus-per-task=%d", sub.Resources.CPUs)
	directive("--mem=%dM", sub.Resources.MemoryMB)
	directive("--time=%s", config.FormatWallTime(sub.Resources.WallTime))
	directive("--output=%s", sub.LogPath)
	directive("--error=%s", sub.LogPath)
	directive("--open-mode=append")
	if sub.Resources.Partition != "" {
		directive("--partition=%s", sub.Resources.Partition)
	}
	for _, extra := range c.opts.Directives {
		if extra = strings.TrimSpace(extra); extra != "" {
			directive("%s", extra)
		}
	}
	b.WriteString("\n")
	b.WriteString(sub.Command)
	b.WriteString("\n")
	return b.String()
}

// parseSchedulerID accepts "--parsable" output ("123" or "123;cluster") and
// the default "Submitted batch job 123" acknowledgement.
func parseSchedulerID(output string) (string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", errors.New("scheduler returned no job id")
	}
	if match := submittedPattern.FindStringSubmatch(trimmed); match != nil {
		return match[1], nil
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	id, _, _ := strings.Cut(last, ";")
	if !schedulerIDPattern.MatchString(id) {
		return "", fmt.Errorf("unrecognised scheduler acknowledgement %q", trimmed)
	}
	return id, nil
}
