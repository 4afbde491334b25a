package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/record"
)

// Enqueue durably inserts a record and returns its ID.
// A record without an ID gets a fresh UUIDv7. The payload is stored in
// canonical form and checksummed.
//
// Uses ON CONFLICT(id) DO NOTHING: re-enqueueing an existing ID is a no-op,
// so callers may safely retry after an ambiguous failure.
func (s *Store) Enqueue(ctx context.Context, rec record.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = s.ids.Generate()
	}
	if rec.Status == "" {
		rec.Status = record.StatusPending
	}
	if _, err := record.ParseStatus(string(rec.Status)); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	if rec.Type == "" {
		return "", fmt.Errorf("enqueue %s: operation type is required", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		return "", fmt.Errorf("enqueue %s: created_at is required", rec.ID)
	}
	if rec.AttemptCount < 0 {
		return "", fmt.Errorf("enqueue %s: negative attempt count", rec.ID)
	}
	if rec.NextEligibleAt.IsZero() {
		rec.NextEligibleAt = rec.CreatedAt
	}
	if rec.LastAttemptAt != nil && rec.NextEligibleAt.Before(*rec.LastAttemptAt) {
		return "", fmt.Errorf("enqueue %s: next_eligible_at precedes last_attempt_at", rec.ID)
	}

	payload, err := record.Canonicalize(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	rec.ResourceID = record.NormalizeResourceID(rec.ResourceID)
	sum := record.Checksum(rec.Type, rec.ResourceID, payload)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, operation_type, resource_id, payload, checksum, status, attempt_count,
		 created_at, last_attempt_at, next_eligible_at, claimed_at, finished_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		string(rec.Type),
		rec.ResourceID,
		string(payload),
		int64(sum),
		string(rec.Status),
		rec.AttemptCount,
		toMillis(rec.CreatedAt),
		nullMillis(rec.LastAttemptAt),
		toMillis(rec.NextEligibleAt),
		nullMillis(rec.ClaimedAt),
		nullMillis(rec.FinishedAt),
		rec.LastError,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// MarkInFlight claims a PENDING record for the calling replay pass.
// Returns ErrNotClaimable if the record exists but is not PENDING.
func (s *Store) MarkInFlight(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = 'IN_FLIGHT', claimed_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("mark in flight %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotClaimable, "mark in flight")
}

// MarkSucceeded moves a claimed record to terminal SUCCEEDED.
// attempt_count is left unchanged: it counts failed attempts only.
func (s *Store) MarkSucceeded(ctx context.Context, id string, now time.Time) error {
	ms := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = 'SUCCEEDED',
		    last_attempt_at = ?,
		    next_eligible_at = MAX(next_eligible_at, ?),
		    claimed_at = NULL,
		    finished_at = ?,
		    last_error = ''
		WHERE id = ? AND status = 'IN_FLIGHT'
	`, ms, ms, ms, id)
	if err != nil {
		return fmt.Errorf("mark succeeded %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotInFlight, "mark succeeded")
}

// MarkFailed records a retryable failure of a claimed record.
//
// The attempt count is incremented. When it reaches the configured maximum
// the record becomes terminal FAILED; otherwise it returns to PENDING and
// becomes eligible again at max(nextAttemptAt, now). The resulting status is
// returned so the caller can tell a retry from an abandonment.
func (s *Store) MarkFailed(ctx context.Context, id string, now, nextAttemptAt time.Time, reason string) (record.Status, error) {
	ms := toMillis(now)
	next := toMillis(laterOf(nextAttemptAt, now))

	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE operations
		SET attempt_count = attempt_count + 1,
		    status = CASE WHEN attempt_count + 1 >= ? THEN 'FAILED' ELSE 'PENDING' END,
		    finished_at = CASE WHEN attempt_count + 1 >= ? THEN ? ELSE NULL END,
		    last_attempt_at = ?,
		    next_eligible_at = ?,
		    claimed_at = NULL,
		    last_error = ?
		WHERE id = ? AND status = 'IN_FLIGHT'
		RETURNING status
	`, s.maxAttempts, s.maxAttempts, ms, ms, next, reason, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", s.missingOr(ctx, id, ErrNotInFlight, "mark failed")
	}
	if err != nil {
		return "", fmt.Errorf("mark failed %s: %w", id, err)
	}
	return record.Status(status), nil
}

// MarkTerminal moves a claimed record straight to FAILED, counting the attempt.
// Used for non-retryable rejections and unrecognized operation types.
func (s *Store) MarkTerminal(ctx context.Context, id string, now time.Time, reason string) error {
	ms := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET attempt_count = attempt_count + 1,
		    status = 'FAILED',
		    last_attempt_at = ?,
		    next_eligible_at = MAX(next_eligible_at, ?),
		    claimed_at = NULL,
		    finished_at = ?,
		    last_error = ?
		WHERE id = ? AND status = 'IN_FLIGHT'
	`, ms, ms, ms, reason, id)
	if err != nil {
		return fmt.Errorf("mark terminal %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotInFlight, "mark terminal")
}

// Release returns a claimed but unattempted record to PENDING.
// The attempt count is not touched.
func (s *Store) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = 'PENDING', claimed_at = NULL
		WHERE id = ? AND status = 'IN_FLIGHT'
	`, id)
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotInFlight, "release")
}

// RecoverStale returns IN_FLIGHT records whose claim is older than
// now-claimTimeout to PENDING and reports how many were recovered.
// A non-positive timeout recovers nothing.
func (s *Store) RecoverStale(ctx context.Context, now time.Time, claimTimeout time.Duration) (int, error) {
	if claimTimeout <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'IN_FLIGHT' AND claimed_at <= ?
	`, toMillis(now.Add(-claimTimeout)))
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	return int(n), nil
}

// PurgeOlderThan deletes terminal records that finished before now-window
// and reports how many were removed. PENDING and IN_FLIGHT records are
// never purged.
func (s *Store) PurgeOlderThan(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM operations
		WHERE status IN ('SUCCEEDED', 'FAILED') AND finished_at < ?
	`, toMillis(now.Add(-window)))
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return int(n), nil
}

// checkAffected maps a zero-row conditional update to ErrNotFound or stateErr.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, id string, stateErr error, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 1 {
		return nil
	}
	return s.missingOr(ctx, id, stateErr, op)
}

func (s *Store) missingOr(ctx context.Context, id string, stateErr error, op string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM operations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%s %s: %w", op, id, stateErr)
}
