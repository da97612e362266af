package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeRunStarted    = "run.started"
	TypeJobSubmitted  = "job.submitted"
	TypeJobSkipped    = "job.skipped"
	TypeDispatchError = "dispatch.error"
	TypeRunFinished   = "run.finished"
	TypeJobOutcome    = "job.outcome"
)

// Event is one published message.
type Event struct {
	Type       string `json:"type"`
	RunID      string `json:"run_id"`
	Sample     string `json:"sample,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Receipt    string `json:"receipt,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
	Message    string `json:"message,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}

func stamp(event Event) Event {
	if event.HappenedAt == 0 {
		event.HappenedAt = time.Now().Unix()
	}
	return event
}
