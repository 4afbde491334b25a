package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/record"
)

// WriteRequest is a caller's mutation intent.
type WriteRequest struct {
	// ID is an optional caller-chosen record ID, used as the idempotency
	// key. Empty means generate one.
	ID         string
	Type       record.OperationType
	ResourceID string
	Payload    []byte
}

// WriteStatus tells the caller what happened to a write.
type WriteStatus string

const (
	// WriteApplied: executed against the remote immediately.
	WriteApplied WriteStatus = "applied"
	// WriteQueued: durably queued for replay.
	WriteQueued WriteStatus = "queued"
	// WriteAbandoned: failed retryably with no attempts left. Recorded as FAILED.
	WriteAbandoned WriteStatus = "abandoned"
)

// WriteResult describes a completed Write.
type WriteResult struct {
	RecordID string
	Status   WriteStatus
	// NextAttemptAt is set when a retryable failure queued the write.
	NextAttemptAt time.Time
}

// Write validates and applies a mutation intent.
//
// Invalid input returns a validation SyncError and nothing is queued. While
// disconnected, or while an earlier intent for the same resource is still
// queued or in flight, the intent is queued without touching the network.
// Otherwise it is executed once: success returns WriteApplied; a retryable
// failure queues it with the attempt counted and backoff applied; a terminal
// failure returns a terminal SyncError and nothing is queued.
func (e *Engine) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	rec, err := e.prepare(req)
	if err != nil {
		return WriteResult{}, err
	}

	if !e.Connected() {
		e.logger.Debug("offline write queued", "record_id", rec.ID, "resource", rec.ResourceID)
		return e.enqueue(ctx, rec)
	}

	open, err := e.queue.HasOpen(ctx, rec.ResourceID)
	if err != nil {
		return WriteResult{}, storageError("write", rec.ID, err)
	}
	if open {
		e.logger.Debug("write queued behind earlier intents", "record_id", rec.ID, "resource", rec.ResourceID)
		return e.enqueue(ctx, rec)
	}

	out := e.execute(ctx, rec.Operation())
	now := e.clock.Now()

	switch out.Kind {
	case OutcomeSuccess:
		if e.mirrorWrites {
			rec.Status = record.StatusSucceeded
			rec.LastAttemptAt = &now
			rec.NextEligibleAt = now
			rec.FinishedAt = &now
			if _, err := e.queue.Enqueue(ctx, rec); err != nil {
				// Audit rows are best effort once the remote has applied the write.
				e.logger.Error("mirror write failed", "record_id", rec.ID, "error", err)
			}
		}
		e.emit(recordEvent(EventSyncSuccess, rec))
		return WriteResult{RecordID: rec.ID, Status: WriteApplied}, nil

	case OutcomeTerminal:
		e.emit(Event{
			Type:       EventSyncFailed,
			RecordID:   rec.ID,
			ResourceID: rec.ResourceID,
			Operation:  rec.Type,
			Attempt:    1,
			Reason:     out.Reason,
		})
		return WriteResult{}, &SyncError{
			Code:     ErrCodeTerminal,
			Op:       "write",
			RecordID: rec.ID,
			Reason:   out.Reason,
		}
	}

	// Retryable: record the attempt that just happened.
	ev := recordEvent(EventSyncRetry, rec)
	rec.AttemptCount = 1
	rec.LastAttemptAt = &now
	rec.LastError = out.Reason

	decision := e.policy.Decide(rec.AttemptCount)
	if !decision.ShouldRetry {
		rec.Status = record.StatusFailed
		rec.NextEligibleAt = now
		rec.FinishedAt = &now
		if _, err := e.queue.Enqueue(ctx, rec); err != nil {
			return WriteResult{}, storageError("write", rec.ID, err)
		}
		ev.Type = EventSyncAbandoned
		ev.Reason = out.Reason
		e.emit(ev)
		return WriteResult{RecordID: rec.ID, Status: WriteAbandoned}, &SyncError{
			Code:     ErrCodeRetryable,
			Op:       "write",
			RecordID: rec.ID,
			Reason:   "no attempts left: " + out.Reason,
		}
	}

	rec.NextEligibleAt = now.Add(decision.Delay)
	if _, err := e.queue.Enqueue(ctx, rec); err != nil {
		return WriteResult{}, storageError("write", rec.ID, err)
	}
	ev.Delay = decision.Delay
	ev.Reason = out.Reason
	e.emit(ev)
	e.logger.Warn("write deferred for retry",
		"record_id", rec.ID,
		"resource", rec.ResourceID,
		"delay", decision.Delay,
		"reason", out.Reason,
	)
	return WriteResult{RecordID: rec.ID, Status: WriteQueued, NextAttemptAt: rec.NextEligibleAt}, nil
}

// Enqueue validates a mutation intent and queues it without attempting
// the network, regardless of connectivity.
func (e *Engine) Enqueue(ctx context.Context, req WriteRequest) (WriteResult, error) {
	rec, err := e.prepare(req)
	if err != nil {
		return WriteResult{}, err
	}
	return e.enqueue(ctx, rec)
}

func (e *Engine) enqueue(ctx context.Context, rec record.Record) (WriteResult, error) {
	id, err := e.queue.Enqueue(ctx, rec)
	if err != nil {
		return WriteResult{}, storageError("enqueue", rec.ID, err)
	}
	return WriteResult{RecordID: id, Status: WriteQueued, NextAttemptAt: rec.NextEligibleAt}, nil
}

// prepare validates req and builds a fresh PENDING record.
func (e *Engine) prepare(req WriteRequest) (record.Record, error) {
	if strings.TrimSpace(string(req.Type)) == "" {
		return record.Record{}, validationError("write", "operation type is required", nil)
	}
	resourceID := record.NormalizeResourceID(req.ResourceID)
	if strings.TrimSpace(resourceID) == "" {
		return record.Record{}, validationError("write", "resource id is required", nil)
	}
	if e.validator != nil {
		if err := e.validator.Validate(req.Type, resourceID, req.Payload); err != nil {
			return record.Record{}, validationError("write", "rejected by schema", err)
		}
	}

	id := req.ID
	if id == "" {
		id = e.ids.Generate()
	}
	rec, err := record.New(id, req.Type, resourceID, req.Payload, e.clock.Now())
	if err != nil {
		return record.Record{}, validationError("write", "invalid payload", errors.Unwrap(err))
	}
	return rec, nil
}
