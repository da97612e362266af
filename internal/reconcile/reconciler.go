package reconcile

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"imcflow/internal/jobs"
	"imcflow/internal/logging"
)

const maxLogLine = 4 * 1024 * 1024

// Reconciler classifies jobs from their artifacts.
type Reconciler struct {
	markers Markers
	logger  *slog.Logger
}

// New builds a reconciler using markers.
func New(markers Markers, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{markers: markers, logger: logging.NewComponentLogger(logger, "reconcile")}
}

// Reconcile classifies every job. Jobs are keyed by (sample, stage).
func (r *Reconciler) Reconcile(js []jobs.Job) map[jobs.Key]Outcome {
	out := make(map[jobs.Key]Outcome, len(js))
	for _, job := range js {
		out[job.Key()] = r.Classify(job)
	}
	return out
}

// Classify derives one job's outcome.
func (r *Reconciler) Classify(job jobs.Job) Outcome {
	return r.ClassifyArtifacts(job.LogPath(), job.ExpectedOutput())
}

// ClassifyArtifacts derives an outcome from a log path and an expected
// output path.
func (r *Reconciler) ClassifyArtifacts(logPath, expectedOutput string) Outcome {
	found, err := r.scan(logPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("job log unreadable; treating as pending",
				logging.String("log_path", logPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "reconcile_log_unreadable"),
			)
		}
		return Pending
	}
	for _, outcome := range AllOutcomes {
		if found[outcome] {
			return outcome
		}
	}
	if expectedOutput != "" && exists(expectedOutput) {
		return Succeeded
	}
	return Pending
}

// Completed is a stage a run did not submit because its expected output was
// already present.
type Completed struct {
	Sample         string
	Stage          string
	Ordinal        int
	ExpectedOutput string
}

// Key returns the (sample, stage) identity of the stage.
func (c Completed) Key() jobs.Key { return jobs.Key{Sample: c.Sample, Stage: c.Stage} }

// ReconcileCompleted classifies skipped stages.
func (r *Reconciler) ReconcileCompleted(completed []Completed) map[jobs.Key]Outcome {
	out := make(map[jobs.Key]Outcome, len(completed))
	for _, c := range completed {
		out[c.Key()] = r.ClassifyCompleted(c)
	}
	return out
}

// ClassifyCompleted reports a skipped stage as succeeded while its output
// still exists. A stage whose output has since been removed is pending.
func (r *Reconciler) ClassifyCompleted(c Completed) Outcome {
	if c.ExpectedOutput != "" && exists(c.ExpectedOutput) {
		return Succeeded
	}
	return Pending
}

// scan reads the log and records which failure classes appear in it.
func (r *Reconciler) scan(path string) (map[Outcome]bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	found := make(map[Outcome]bool, 4)
	order := r.markers.lineOrder()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		line := scanner.Text()
		for _, class := range order {
			if containsAny(line, class.markers) {
				found[class.outcome] = true
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("job log scan stopped early",
			logging.String("log_path", path),
			logging.Error(err),
		)
	}
	return found, nil
}

func containsAny(line string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
