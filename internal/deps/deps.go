package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"imcflow/internal/backend"
	"imcflow/internal/pipeline"
)

// Requirement is an external executable a run needs.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	// Path is the resolved executable when Available.
	Path   string
	Detail string
}

// ForRun lists the executables a dispatch with the given stages needs. Stages
// without a Tool (for example a wrapped container invocation) are skipped;
// the local backend only needs the shell.
func ForRun(stages []pipeline.Stage, kind backend.Kind, submitCommand, shell string) []Requirement {
	var reqs []Requirement
	seen := make(map[string]bool)
	add := func(req Requirement) {
		if req.Command == "" || seen[req.Command] {
			return
		}
		seen[req.Command] = true
		reqs = append(reqs, req)
	}
	switch kind {
	case backend.KindCluster:
		add(Requirement{Name: "Scheduler", Command: strings.TrimSpace(submitCommand), Description: "Required to submit batch jobs"})
	default:
		add(Requirement{Name: "Shell", Command: strings.TrimSpace(shell), Description: "Runs local jobs"})
	}
	for _, stage := range stages {
		tool := strings.TrimSpace(stage.Tool)
		// Compute nodes may carry tools the submit host lacks.
		add(Requirement{
			Name:        stage.Name,
			Command:     tool,
			Description: fmt.Sprintf("Runs the %s stage", stage.Name),
			Optional:    kind == backend.KindCluster,
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are not available.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
