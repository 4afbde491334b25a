package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/record"
)

// recordColumns is the column list matching scanRecord.
const recordColumns = `seq, id, operation_type, resource_id, payload, checksum, status,
	attempt_count, created_at, last_attempt_at, next_eligible_at, claimed_at,
	finished_at, last_error`

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// laterOf returns the later of two instants.
func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with recordColumns and verifies its checksum.
func scanRecord(row scanner) (record.Record, error) {
	var (
		rec           record.Record
		opType        string
		payload       string
		checksum      int64
		status        string
		createdAt     int64
		lastAttemptAt sql.NullInt64
		nextEligible  int64
		claimedAt     sql.NullInt64
		finishedAt    sql.NullInt64
	)
	err := row.Scan(
		&rec.Seq,
		&rec.ID,
		&opType,
		&rec.ResourceID,
		&payload,
		&checksum,
		&status,
		&rec.AttemptCount,
		&createdAt,
		&lastAttemptAt,
		&nextEligible,
		&claimedAt,
		&finishedAt,
		&rec.LastError,
	)
	if err != nil {
		return record.Record{}, err
	}

	rec.Type = record.OperationType(opType)
	rec.Payload = []byte(payload)
	rec.Status = record.Status(status)
	rec.CreatedAt = fromMillis(createdAt)
	rec.LastAttemptAt = timePtr(lastAttemptAt)
	rec.NextEligibleAt = fromMillis(nextEligible)
	rec.ClaimedAt = timePtr(claimedAt)
	rec.FinishedAt = timePtr(finishedAt)

	if !rec.Verify(uint32(checksum)) {
		return record.Record{}, fmt.Errorf("record %s: %w", rec.ID, ErrCorrupt)
	}
	return rec, nil
}
