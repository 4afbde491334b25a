// Package record defines the Operation Record: the durable unit of queued work.
//
// This package contains value types and pure helpers only. The store, engine
// and CLI import record; record imports nothing internal.
//
// Key constraints:
//   - ID is assigned once at creation and never changes
//   - AttemptCount never decreases
//   - NextEligibleAt is never earlier than LastAttemptAt
//   - Payloads are stored in canonical JSON form (see Canonicalize)
//   - All JSON tags use snake_case
package record
