package reconcile

import (
	"imcflow/internal/config"
)

// Outcome is the derived state of a job.
type Outcome string

// Job outcomes.
const (
	Pending   Outcome = "pending"
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Killed    Outcome = "killed"
	Cancelled Outcome = "cancelled"
	TimedOut  Outcome = "timed_out"
)

// AllOutcomes lists every outcome in precedence order.
var AllOutcomes = []Outcome{Killed, Cancelled, TimedOut, Failed, Succeeded, Pending}

// IsFailure reports whether the outcome is a terminal failure.
func (o Outcome) IsFailure() bool {
	switch o {
	case Killed, Cancelled, TimedOut, Failed:
		return true
	}
	return false
}

// IsTerminal reports whether the outcome will not change any more.
func (o Outcome) IsTerminal() bool {
	return o != Pending
}

// Markers is the marker text per failure class. A line matches a marker
// when it contains it (case-sensitive).
type Markers struct {
	Killed    []string
	Cancelled []string
	TimedOut  []string
	Failed    []string
}

// DefaultMarkers returns the built-in marker set. It covers scheduler
// messages and the lines the local backend writes.
func DefaultMarkers() Markers {
	return Markers{
		Killed:    []string{"Killed", "oom-kill", "Out Of Memory"},
		Cancelled: []string{"CANCELLED AT", "Cancelled by dependency"},
		TimedOut:  []string{"DUE TO TIME LIMIT"},
		Failed:    []string{"Error", "Traceback (most recent call last)"},
	}
}

// MarkersFromConfig applies configured overrides. Empty lists keep the
// defaults.
func MarkersFromConfig(cfg config.Reconcile) Markers {
	m := DefaultMarkers()
	if len(cfg.KilledMarkers) > 0 {
		m.Killed = cfg.KilledMarkers
	}
	if len(cfg.CancelledMarkers) > 0 {
		m.Cancelled = cfg.CancelledMarkers
	}
	if len(cfg.TimeoutMarkers) > 0 {
		m.TimedOut = cfg.TimeoutMarkers
	}
	if len(cfg.FailedMarkers) > 0 {
		m.Failed = cfg.FailedMarkers
	}
	return m
}

type markerClass struct {
	outcome Outcome
	markers []string
}

// lineOrder is the order in which a single line is attributed to a class.
func (m Markers) lineOrder() []markerClass {
	return []markerClass{
		{outcome: Killed, markers: m.Killed},
		{outcome: TimedOut, markers: m.TimedOut},
		{outcome: Cancelled, markers: m.Cancelled},
		{outcome: Failed, markers: m.Failed},
	}
}
