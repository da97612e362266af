package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a dispatch run.
type Run struct {
	ID           string `json:"id"`
	Backend      string `json:"backend"`
	ManifestPath string `json:"manifestPath"`
	PanelPath    string `json:"panelPath,omitempty"`
	Samples      int    `json:"samples"`
	Jobs         int    `json:"jobs"`
	Errors       int    `json:"errors"`
	Skipped      int    `json:"skipped"`
	DryRun       bool   `json:"dryRun"`
	StartedAt    string `json:"startedAt"`
	FinishedAt   string `json:"finishedAt,omitempty"`
}

// Job is a submitted job with its reconciled outcome.
type Job struct {
	Sample         string `json:"sample"`
	Stage          string `json:"stage"`
	Ordinal        int    `json:"ordinal"`
	Backend        string `json:"backend"`
	Receipt        string `json:"receipt"`
	Outcome        string `json:"outcome,omitempty"`
	Command        string `json:"command"`
	CPUs           int    `json:"cpus"`
	MemoryMB       int    `json:"memoryMb"`
	WallTime       string `json:"wallTime"`
	Partition      string `json:"partition,omitempty"`
	LogPath        string `json:"logPath"`
	ExpectedOutput string `json:"expectedOutput"`
	SubmittedAt    string `json:"submittedAt"`
}

// DispatchError is a failure recorded while dispatching a run.
type DispatchError struct {
	Sample     string `json:"sample"`
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RecordedAt string `json:"recordedAt"`
}

// StageOutcome is one stage within a sample summary.
type StageOutcome struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
	Receipt string `json:"receipt,omitempty"`
	LogPath string `json:"logPath,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// SampleStatus is the batch-level state of one sample.
type SampleStatus struct {
	Sample string         `json:"sample"`
	Status string         `json:"status"`
	Stages []StageOutcome `json:"stages"`
}

// Report is a reconciled view of one run.
type Report struct {
	Run       Run             `json:"run"`
	Jobs      []Job           `json:"jobs"`
	Samples   []SampleStatus  `json:"samples"`
	Counts    map[string]int  `json:"counts"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Pending   int             `json:"pending"`
	Errors    []DispatchError `json:"errors,omitempty"`
}

// RunListResponse wraps the run list.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// JobListResponse wraps the job list of a run.
type JobListResponse struct {
	RunID string `json:"runId"`
	Jobs  []Job  `json:"jobs"`
}

// HealthResponse is served by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
