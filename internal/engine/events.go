package engine

import (
	"time"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/fanout"
	"github.com/roach88/offsync/internal/record"
)

// EventType names an engine event.
type EventType string

const (
	EventSyncStarted         EventType = "sync-started"
	EventSyncSuccess         EventType = "sync-success"
	EventSyncRetry           EventType = "sync-retry"
	EventSyncAbandoned       EventType = "sync-abandoned"
	EventSyncFailed          EventType = "sync-failed"
	EventConnectivityChanged EventType = "connectivity-changed"
)

// Event is a one-way notification for presentation layers.
// Fields beyond Seq, Type and At are set only where meaningful.
type Event struct {
	Seq        int64                `json:"seq"`
	Type       EventType            `json:"type"`
	At         time.Time            `json:"at"`
	RecordID   string               `json:"record_id,omitempty"`
	ResourceID string               `json:"resource_id,omitempty"`
	Operation  record.OperationType `json:"operation_type,omitempty"`
	Attempt    int                  `json:"attempt,omitempty"`
	Delay      time.Duration        `json:"delay,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	State      *connectivity.State  `json:"state,omitempty"`
}

// Subscribe returns a subscription to all events emitted after this call.
// Cancel it when done.
func (e *Engine) Subscribe() *fanout.Subscription[Event] {
	return e.events.Subscribe()
}

// LastEventSeq returns the sequence number of the most recently emitted
// event, or 0 if none.
func (e *Engine) LastEventSeq() int64 {
	return e.seq.Current()
}

// emit stamps and publishes ev. Stamping and publishing happen under one
// lock so subscribers observe events in Seq order.
func (e *Engine) emit(ev Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	ev.Seq = e.seq.Next()
	ev.At = e.clock.Now()
	e.events.Publish(ev)

	e.logger.Debug("event",
		"seq", ev.Seq,
		"type", string(ev.Type),
		"record_id", ev.RecordID,
		"reason", ev.Reason,
	)
}

func recordEvent(t EventType, rec record.Record) Event {
	return Event{
		Type:       t,
		RecordID:   rec.ID,
		ResourceID: rec.ResourceID,
		Operation:  rec.Type,
		Attempt:    rec.AttemptCount + 1,
	}
}
