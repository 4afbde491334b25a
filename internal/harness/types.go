package harness

import (
	"time"

	"github.com/roach88/offsync/internal/engine"
)

// Trace entry kinds.
const (
	KindStep  = "step"
	KindEvent = "event"
)

// TraceEvent is one line of a scenario trace: either a scripted step or an
// engine event.
type TraceEvent struct {
	Seq        int    `json:"seq"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	At         string `json:"at"`
	RecordID   string `json:"record_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Delay      string `json:"delay,omitempty"`
	Reason     string `json:"reason,omitempty"`
	State      string `json:"state,omitempty"`
	Outcome    string `json:"outcome,omitempty"`

	// offset is At before formatting, kept for spacing assertions.
	offset time.Duration
}

// isAttempt reports whether the event records the end of a remote attempt.
func (e TraceEvent) isAttempt() bool {
	if e.Kind != KindEvent {
		return false
	}
	switch engine.EventType(e.Name) {
	case engine.EventSyncSuccess, engine.EventSyncRetry, engine.EventSyncAbandoned, engine.EventSyncFailed:
		return e.Reason != engine.ReasonUnrecognized
	}
	return false
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all steps and engine events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	ev.At = formatOffset(ev.offset)
	r.Trace = append(r.Trace, ev)
}

func formatOffset(d time.Duration) string {
	return "+" + d.String()
}
