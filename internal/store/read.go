package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/record"
)

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM operations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, nil
}

// ListEligible returns up to limit PENDING records with next_eligible_at <= now,
// ordered by created_at then insertion sequence.
//
// A record is withheld while an older record for the same resource is
// IN_FLIGHT or PENDING but not yet eligible. A non-positive limit means no limit.
//
// Returns an empty slice (not nil) if nothing is eligible.
func (s *Store) ListEligible(ctx context.Context, now time.Time, limit int) ([]record.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	ms := toMillis(now)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM operations o
		WHERE o.status = 'PENDING'
		  AND o.next_eligible_at <= ?
		  AND NOT EXISTS (
		      SELECT 1 FROM operations p
		      WHERE p.resource_id = o.resource_id
		        AND (p.created_at < o.created_at
		             OR (p.created_at = o.created_at AND p.seq < o.seq))
		        AND (p.status = 'IN_FLIGHT'
		             OR (p.status = 'PENDING' AND p.next_eligible_at > ?))
		  )
		ORDER BY o.created_at ASC, o.seq ASC
		LIMIT ?
	`, ms, ms, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	return collect(rows, "list eligible")
}

// NextEligibleAfter returns the earliest next_eligible_at of a PENDING
// record that becomes eligible strictly after now. ok is false when no
// record is waiting on a future time.
func (s *Store) NextEligibleAfter(ctx context.Context, now time.Time) (time.Time, bool, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(next_eligible_at) FROM operations
		WHERE status = 'PENDING' AND next_eligible_at > ?
	`, toMillis(now)).Scan(&next)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next eligible: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(next.Int64), true, nil
}

// HasOpen reports whether the resource has a PENDING or IN_FLIGHT record.
func (s *Store) HasOpen(ctx context.Context, resourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM operations
		    WHERE resource_id = ? AND status IN ('PENDING', 'IN_FLIGHT')
		)
	`, record.NormalizeResourceID(resourceID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has open %s: %w", resourceID, err)
	}
	return exists, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status     record.Status
	ResourceID string
	Limit      int
}

// List returns records matching the filter in queue order.
func (s *Store) List(ctx context.Context, f Filter) ([]record.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, record.NormalizeResourceID(f.ResourceID))
	}

	query := `SELECT ` + recordColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return collect(rows, "list")
}

// Counts returns the number of records per status.
// Every status is present in the result, zero if absent.
func (s *Store) Counts(ctx context.Context) (map[record.Status]int, error) {
	counts := make(map[record.Status]int, len(record.ValidStatuses))
	for _, st := range record.ValidStatuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("counts: scan: %w", err)
		}
		counts[record.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counts: iterate: %w", err)
	}
	return counts, nil
}

func collect(rows *sql.Rows, op string) ([]record.Record, error) {
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return recs, nil
}
