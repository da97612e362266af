package jobs

import (
	"time"

	"imcflow/internal/backend"
	"imcflow/internal/pipeline"
)

// Key identifies a job within a run.
type Key struct {
	Sample string
	Stage  string
}

func (k Key) String() string { return k.Sample + "/" + k.Stage }

// Spec carries the values a Job is built from.
type Spec struct {
	RunID          string
	Sample         string
	Stage          string
	Ordinal        int
	Command        string
	Backend        backend.Kind
	Resources      pipeline.Resources
	LogPath        string
	ExpectedOutput string
	Receipt        backend.Receipt
	SubmittedAt    time.Time
}

// Job is an immutable submission record.
type Job struct {
	spec Spec
}

// New freezes spec into a Job.
func New(spec Spec) Job {
	return Job{spec: spec}
}

func (j Job) RunID() string                 { return j.spec.RunID }
func (j Job) Sample() string                { return j.spec.Sample }
func (j Job) Stage() string                 { return j.spec.Stage }
func (j Job) Ordinal() int                  { return j.spec.Ordinal }
func (j Job) Command() string               { return j.spec.Command }
func (j Job) Backend() backend.Kind         { return j.spec.Backend }
func (j Job) Resources() pipeline.Resources { return j.spec.Resources }
func (j Job) LogPath() string               { return j.spec.LogPath }
func (j Job) ExpectedOutput() string        { return j.spec.ExpectedOutput }
func (j Job) Receipt() backend.Receipt      { return j.spec.Receipt }
func (j Job) SubmittedAt() time.Time        { return j.spec.SubmittedAt }

// Key returns the (sample, stage) identity of the job.
func (j Job) Key() Key { return Key{Sample: j.spec.Sample, Stage: j.spec.Stage} }

// Spec returns a copy of the values the job was built from.
func (j Job) Spec() Spec { return j.spec }

// View is the serialisable form of a Job used by the CLI and the API.
type View struct {
	RunID          string    `json:"run_id"`
	Sample         string    `json:"sample"`
	Stage          string    `json:"stage"`
	Ordinal        int       `json:"ordinal"`
	Command        string    `json:"command"`
	Backend        string    `json:"backend"`
	Receipt        string    `json:"receipt"`
	CPUs           int       `json:"cpus"`
	MemoryMB       int       `json:"memory_mb"`
	WallTime       string    `json:"wall_time"`
	Partition      string    `json:"partition,omitempty"`
	LogPath        string    `json:"log_path"`
	ExpectedOutput string    `json:"expected_output"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// View renders the job for display.
func (j Job) View() View {
	return View{
		RunID:          j.spec.RunID,
		Sample:         j.spec.Sample,
		Stage:          j.spec.Stage,
		Ordinal:        j.spec.Ordinal,
		Command:        j.spec.Command,
		Backend:        string(j.spec.Backend),
		Receipt:        j.spec.Receipt.String(),
		CPUs:           j.spec.Resources.CPUs,
		MemoryMB:       j.spec.Resources.MemoryMB,
		WallTime:       j.spec.Resources.WallTime.String(),
		Partition:      j.spec.Resources.Partition,
		LogPath:        j.spec.LogPath,
		ExpectedOutput: j.spec.ExpectedOutput,
		SubmittedAt:    j.spec.SubmittedAt,
	}
}
