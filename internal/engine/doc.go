// Package engine implements the offline-first sync orchestrator.
//
// The engine sits between callers that read and mutate remote resources and
// a remote service that may be unreachable at any moment. It owns three
// paths:
//
// Read path:
// Cached snapshot first (marked stale), then a concurrent refresh while
// connected. A successful refresh overwrites the snapshot (server wins). A
// failed refresh re-emits the cached value with the error attached; cached
// data is never replaced by an empty result.
//
// Write path:
// Validate locally, then either execute immediately (connected) or enqueue
// (disconnected). Retryable failures are enqueued with backoff already
// applied; terminal failures are returned to the caller and never queued.
//
// Replay loop:
// Single-flight pass over eligible queued records in per-resource FIFO
// order: claim, execute, record the outcome. A pass stops early when
// connectivity drops; unattempted records stay PENDING.
//
// CONCURRENCY:
//
// Replay and connectivity observation run independently. They share state
// only through the Queue's atomic claim and the published event stream.
// The single-flight flag is an atomic compare-and-swap reset by defer on
// every exit path.
//
// EVENTS:
//
// Every event carries a strictly increasing Seq from a Sequence, so
// subscribers can order events without trusting wall-clock time.
package engine
