package engine

import (
	"errors"
	"fmt"
)

// SyncError is the engine's structured error.
//
// Validation and terminal errors are recovered locally (surfaced to the
// caller or recorded as FAILED). Retryable errors are absorbed by backoff.
// Queue storage errors abort the current pass and surface to the scheduler.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Op names the engine operation that failed (e.g. "write", "replay").
	Op string

	// RecordID identifies the affected record, if any.
	RecordID string

	// Reason is a human-readable description.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeValidation: caller input is malformed. Never enqueued.
	ErrCodeValidation SyncErrorCode = "VALIDATION"

	// ErrCodeRetryable: the remote is unreachable, timed out, or overloaded.
	ErrCodeRetryable SyncErrorCode = "RETRYABLE_REMOTE"

	// ErrCodeTerminal: the remote permanently rejected the operation.
	ErrCodeTerminal SyncErrorCode = "TERMINAL_REMOTE"

	// ErrCodeQueueStorage: the durable queue could not be read or written.
	ErrCodeQueueStorage SyncErrorCode = "QUEUE_STORAGE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.RecordID != "" {
		msg += fmt.Sprintf(" (record=%s)", e.RecordID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsValidation reports whether err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsRetryable reports whether err is a retryable remote error.
func IsRetryable(err error) bool { return hasCode(err, ErrCodeRetryable) }

// IsTerminal reports whether err is a terminal remote error.
func IsTerminal(err error) bool { return hasCode(err, ErrCodeTerminal) }

// IsQueueStorage reports whether err is a queue storage error.
func IsQueueStorage(err error) bool { return hasCode(err, ErrCodeQueueStorage) }

func validationError(op, reason string, err error) *SyncError {
	return &SyncError{Code: ErrCodeValidation, Op: op, Reason: reason, Err: err}
}

func storageError(op, recordID string, err error) *SyncError {
	return &SyncError{Code: ErrCodeQueueStorage, Op: op, RecordID: recordID, Err: err}
}
