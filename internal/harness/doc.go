// Package harness runs YAML conformance scenarios against the real sync
// engine.
//
// A scenario scripts connectivity changes, clock advances, writes and
// replay passes, and scripts what the remote returns for each resource.
// The harness drives a fresh in-memory queue with a fake clock, records a
// trace of every step and every engine event, and evaluates the
// scenario's assertions against the trace and the final queue contents.
//
// Traces are deterministic: event times are offsets from the scenario
// start and no wall-clock value leaks into them, so they can be compared
// against golden files (see RunWithGolden).
//
// # Scenario format
//
//	name: backoff-then-success
//	description: two retryable failures, then success
//	config:
//	  initial: offline
//	  max_attempts: 3
//	remote:
//	  cart-42: [retryable, retryable, success]
//	steps:
//	  - do: enqueue
//	    args: {id: b-1, type: UPDATE, resource: cart-42, payload: {qty: 5}}
//	  - do: connect
//	  - do: replay
//	  - do: advance
//	    args: {by: 1s}
//	assertions:
//	  - type: record_state
//	    record: b-1
//	    status: SUCCEEDED
package harness
