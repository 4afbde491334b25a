// Package store provides the SQLite-backed durable operation queue.
//
// Every queued mutation lives in a single operations table. The store is the
// only component that mutates Operation Records; the engine drives the
// lifecycle exclusively through the methods defined here.
//
// # Guarantees
//
// Durability before acknowledge
//   - synchronous=FULL: a committed Enqueue survives power loss
//   - Enqueue returns only after the row is committed
//
// Atomic single claim
//   - MarkInFlight is one conditional UPDATE ... WHERE status = 'PENDING'
//   - Two callers racing for the same record: exactly one sees a row change
//
// Per-resource FIFO
//   - ListEligible orders by created_at, seq
//   - A record is withheld while an older record for the same resource is
//     IN_FLIGHT or still backing off, so a retry can never be overtaken
//
// Integrity
//   - Each row carries a CRC32C of (type, resource, payload)
//   - A mismatch on read is reported as ErrCorrupt
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: durability before acknowledge
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: serialized writers
package store
