package record

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an Operation Record.
type Status string

const (
	// StatusPending means the record waits for its next eligible replay.
	StatusPending Status = "PENDING"
	// StatusInFlight means exactly one replay pass holds the record.
	StatusInFlight Status = "IN_FLIGHT"
	// StatusSucceeded is terminal: the remote accepted the operation.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed is terminal: the remote rejected it or attempts ran out.
	StatusFailed Status = "FAILED"
)

// ValidStatuses lists every status in lifecycle order.
var ValidStatuses = []Status{StatusPending, StatusInFlight, StatusSucceeded, StatusFailed}

// Terminal reports whether no further attempts will be made.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseStatus converts a persisted or user-supplied status string.
func ParseStatus(s string) (Status, error) {
	for _, v := range ValidStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// OperationType is an open tag naming the kind of mutation (e.g. "ADD").
// The set of types a binary understands is decided by the schema registry,
// not by this package, so records written by newer binaries still load.
type OperationType string

// Record is one queued mutation awaiting execution against the remote.
type Record struct {
	ID             string        `json:"id"`
	Seq            int64         `json:"seq"` // Store-assigned insertion order
	Type           OperationType `json:"operation_type"`
	ResourceID     string        `json:"resource_id"`
	Payload        []byte        `json:"payload"` // Canonical JSON
	Status         Status        `json:"status"`
	AttemptCount   int           `json:"attempt_count"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAttemptAt  *time.Time    `json:"last_attempt_at,omitempty"`
	NextEligibleAt time.Time     `json:"next_eligible_at"`
	ClaimedAt      *time.Time    `json:"claimed_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// New builds a PENDING record that is eligible immediately.
// The payload is canonicalized; invalid JSON is rejected.
func New(id string, typ OperationType, resourceID string, payload []byte, now time.Time) (Record, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return Record{}, fmt.Errorf("new record: %w", err)
	}
	return Record{
		ID:             id,
		Type:           typ,
		ResourceID:     resourceID,
		Payload:        canonical,
		Status:         StatusPending,
		CreatedAt:      now,
		NextEligibleAt: now,
	}, nil
}

// Eligible reports whether the record may be claimed at now.
func (r Record) Eligible(now time.Time) bool {
	return r.Status == StatusPending && !r.NextEligibleAt.After(now)
}

// Operation is the replay view of a record handed to the remote executor.
type Operation struct {
	RecordID   string
	Type       OperationType
	ResourceID string
	Payload    []byte
	Attempt    int // 1-based number of this attempt
}

// Operation returns the executor view for the next attempt.
func (r Record) Operation() Operation {
	return Operation{
		RecordID:   r.ID,
		Type:       r.Type,
		ResourceID: r.ResourceID,
		Payload:    r.Payload,
		Attempt:    r.AttemptCount + 1,
	}
}
