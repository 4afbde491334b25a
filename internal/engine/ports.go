package engine

import (
	"context"
	"time"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/fanout"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/snapshot"
)

// Queue is the durable operation queue the engine drives.
//
// Implementations guarantee durability before Enqueue returns and an atomic
// single claim in MarkInFlight. State-conflict failures wrap
// store.ErrNotClaimable, store.ErrNotInFlight or store.ErrNotFound.
type Queue interface {
	Enqueue(ctx context.Context, rec record.Record) (string, error)
	ListEligible(ctx context.Context, now time.Time, limit int) ([]record.Record, error)
	NextEligibleAfter(ctx context.Context, now time.Time) (time.Time, bool, error)
	HasOpen(ctx context.Context, resourceID string) (bool, error)
	MarkInFlight(ctx context.Context, id string, now time.Time) error
	MarkSucceeded(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, now, nextAttemptAt time.Time, reason string) (record.Status, error)
	MarkTerminal(ctx context.Context, id string, now time.Time, reason string) error
	Release(ctx context.Context, id string) error
	RecoverStale(ctx context.Context, now time.Time, claimTimeout time.Duration) (int, error)
	PurgeOlderThan(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

// Connectivity is the engine's view of the connectivity monitor.
type Connectivity interface {
	Current() connectivity.State
	Subscribe() *fanout.Subscription[connectivity.State]
}

// Cache is the local snapshot store behind the read path.
type Cache interface {
	Get(ctx context.Context, key string) (snapshot.Entry, bool, error)
	Put(ctx context.Context, key string, value []byte, fetchedAt time.Time) error
}

// Fetcher retrieves the current server representation of a key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// Validator decides which operation types exist and whether a write
// intent is well formed.
type Validator interface {
	Known(t record.OperationType) bool
	Validate(t record.OperationType, resourceID string, payload []byte) error
}
