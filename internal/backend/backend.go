package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"imcflow/internal/config"
	"imcflow/internal/pipeline"
)

// Kind tags an execution target.
type Kind string

// Supported backend kinds.
const (
	KindLocal   Kind = config.BackendLocal
	KindCluster Kind = config.BackendCluster
)

// ParseKind converts a configured backend name into a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindLocal:
		return KindLocal, nil
	case KindCluster:
		return KindCluster, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected %s or %s)", value, KindLocal, KindCluster)
	}
}

// Receipt identifies a submitted job. Local receipts are sequence numbers
// scoped to one backend instance; cluster receipts are scheduler job ids.
type Receipt struct {
	Kind Kind
	ID   string
}

// IsZero reports whether the receipt is unset.
func (r Receipt) IsZero() bool { return r.ID == "" }

func (r Receipt) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + ":" + r.ID
}

// Submission is one rendered job handed to a backend.
type Submission struct {
	// Name is a scheduler-safe job name, unique per (sample, stage).
	Name      string
	Command   string
	Resources pipeline.Resources
	LogPath   string
	// After, when set, makes the job start only after that job succeeded.
	After Receipt
}

func (s Submission) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("job name is empty")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("command is empty")
	}
	if strings.TrimSpace(s.LogPath) == "" {
		return errors.New("log path is empty")
	}
	if err := s.Resources.Validate(); err != nil {
		return fmt.Errorf("resource envelope: %w", err)
	}
	return nil
}

// Backend accepts a command plus resource envelope plus log destination and
// returns without guaranteeing completion order.
type Backend interface {
	Kind() Kind
	Submit(ctx context.Context, sub Submission) (Receipt, error)
}

// Waiter is implemented by backends that run jobs inside this process.
type Waiter interface {
	Wait(ctx context.Context) error
}

// ErrSubmission marks a job the backend refused at submission time.
var ErrSubmission = errors.New("submission error")

// SubmissionError reports a rejected submission.
type SubmissionError struct {
	Backend Kind
	Job     string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %s backend rejected %s: %v", ErrSubmission, e.Backend, e.Job, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSubmission.
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

func submissionError(kind Kind, job string, err error) error {
	return &SubmissionError{Backend: kind, Job: job, Err: err}
}

// New builds the backend named by kind from cfg.
func New(kind Kind, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch kind {
	case KindLocal:
		return NewLocal(LocalOptions{MaxParallel: cfg.Backend.MaxParallel}, logger), nil
	case KindCluster:
		return NewCluster(ClusterOptions{
			SubmitCommand: cfg.Cluster.SubmitCommand,
			SubmitArgs:    cfg.Cluster.SubmitArgs,
			Shell:         cfg.Cluster.Shell,
			Directives:    cfg.Cluster.Directives,
			ScriptDir:     cfg.ScriptDir(),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
