package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"imcflow/internal/logging"
)

var commandContext = exec.CommandContext

// DefaultLocalShell runs local job commands.
const DefaultLocalShell = "/bin/sh"

const timestampLayout = "2006-01-02T15:04:05"

// LocalOptions configures the local backend.
type LocalOptions struct {
	// MaxParallel above 1 makes Submit non-blocking with at most that many
	// jobs running at once.
	MaxParallel int
	Shell       string
}

// Local runs jobs as child processes of this one.
type Local struct {
	shell    string
	parallel bool
	sem      chan struct{}
	logger   *slog.Logger

	mu   sync.Mutex
	seq  int
	jobs map[string]*localJob
	wg   sync.WaitGroup
}

type localJob struct {
	name      string
	done      chan struct{}
	succeeded bool
}

// NewLocal builds a local backend.
func NewLocal(opts LocalOptions, logger *slog.Logger) *Local {
	if logger == nil {
		logger = logging.NewNop()
	}
	shell := opts.Shell
	if shell == "" {
		shell = DefaultLocalShell
	}
	limit := max(opts.MaxParallel, 1)
	return &Local{
		shell:    shell,
		parallel: limit > 1,
		sem:      make(chan struct{}, limit),
		logger:   logging.NewComponentLogger(logger, "backend.local"),
		jobs:     make(map[string]*localJob),
	}
}

// Kind returns KindLocal.
func (l *Local) Kind() Kind { return KindLocal }

// Submit starts the job. In sequential mode it returns once the process has
// exited; in parallel mode it returns as soon as the job is queued. A
// non-zero exit is not a submission error.
func (l *Local) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if err := sub.validate(); err != nil {
		return Receipt{}, submissionError(KindLocal, sub.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, submissionError(KindLocal, sub.Name, err)
	}
	if _, err := exec.LookPath(l.shell); err != nil {
		return Receipt{}, submissionError(KindLocal, sub.Name, fmt.Errorf("shell %s: %w", l.shell, err))
	}
	if err := os.MkdirAll(filepath.Dir(sub.LogPath), 0o755); err != nil {
		return Receipt{}, submissionError(KindLocal, sub.Name, fmt.Errorf("create log directory: %w", err))
	}

	var dep *localJob
	if !sub.After.IsZero() {
		if sub.After.Kind != KindLocal {
			return Receipt{}, submissionError(KindLocal, sub.Name, fmt.Errorf("dependency %s is not a local job", sub.After))
		}
		l.mu.Lock()
		dep = l.jobs[sub.After.ID]
		l.mu.Unlock()
		if dep == nil {
			return Receipt{}, submissionError(KindLocal, sub.Name, fmt.Errorf("unknown dependency %s", sub.After))
		}
	}

	job := &localJob{name: sub.Name, done: make(chan struct{})}
	l.mu.Lock()
	l.seq++
	id := strconv.Itoa(l.seq)
	l.jobs[id] = job
	l.mu.Unlock()
	receipt := Receipt{Kind: KindLocal, ID: id}

	l.wg.Add(1)
	if l.parallel {
		go l.run(ctx, sub, job, dep)
	} else {
		l.run(ctx, sub, job, dep)
	}
	return receipt, nil
}

// Wait blocks until every submitted job has finished or ctx ends.
func (l *Local) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) run(ctx context.Context, sub Submission, job *localJob, dep *localJob) {
	defer l.wg.Done()
	defer close(job.done)

	logger := l.logger.With(logging.String("job", sub.Name))
	if dep != nil {
		select {
		case <-dep.done:
		case <-ctx.Done():
			appendLogLine(sub.LogPath, fmt.Sprintf("*** JOB CANCELLED AT %s ***", now()))
			return
		}
		if !dep.succeeded {
			appendLogLine(sub.LogPath, "imcflow: Cancelled by dependency: previous stage did not succeed")
			logger.Info("dependency did not succeed; job not started", logging.String("dependency", dep.name))
			return
		}
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		appendLogLine(sub.LogPath, fmt.Sprintf("*** JOB CANCELLED AT %s ***", now()))
		return
	}
	defer func() { <-l.sem }()

	job.succeeded = l.execute(ctx, sub, logger)
}

func (l *Local) execute(ctx context.Context, sub Submission, logger *slog.Logger) bool {
	logFile, err := os.OpenFile(sub.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("open job log failed", logging.Error(err))
		return false
	}
	defer logFile.Close()

	// Lines written here never carry the job name: sample names are free
	// text and could contain marker words.
	fmt.Fprintf(logFile, "imcflow: job started at %s (cpus=%d mem=%dM time=%s)\n",
		now(), sub.Resources.CPUs, sub.Resources.MemoryMB, sub.Resources.WallTime)

	runCtx, cancel := context.WithTimeout(ctx, sub.Resources.WallTime)
	defer cancel()

	cmd := commandContext(runCtx, l.shell, "-c", sub.Command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"IMCFLOW_JOB_NAME="+sub.Name,
		"IMCFLOW_CPUS="+strconv.Itoa(sub.Resources.CPUs),
		"IMCFLOW_MEMORY_MB="+strconv.Itoa(sub.Resources.MemoryMB),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started).Round(time.Millisecond)

	switch {
	case runErr == nil:
		fmt.Fprintf(logFile, "imcflow: job finished in %s\n", elapsed)
		logger.Info("local job finished", logging.Duration("elapsed", elapsed))
		return true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		fmt.Fprintf(logFile, "*** JOB CANCELLED AT %s DUE TO TIME LIMIT ***\n", now())
		logger.Warn("local job exceeded wall time", logging.Duration("wall_time", sub.Resources.WallTime))
	case ctx.Err() != nil:
		fmt.Fprintf(logFile, "*** JOB CANCELLED AT %s ***\n", now())
		logger.Warn("local job cancelled", logging.Error(ctx.Err()))
	case killedBySignal(runErr):
		fmt.Fprintln(logFile, "imcflow: job Killed")
		logger.Warn("local job killed", logging.Error(runErr))
	default:
		fmt.Fprintf(logFile, "imcflow: Error: job exited: %v\n", runErr)
		logger.Warn("local job failed", logging.Error(runErr))
	}
	return false
}

func killedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() {
		return status.Signal() == syscall.SIGKILL
	}
	// Shells report a killed child as 128+9.
	return exitErr.ExitCode() == 128+int(syscall.SIGKILL)
}

func appendLogLine(path, line string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

func now() string {
	return time.Now().Format(timestampLayout)
}
