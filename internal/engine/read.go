package engine

import (
	"context"
	"errors"
	"time"
)

// ErrNoSnapshot is reported by Read when there is neither a cached value
// nor a way to fetch one.
var ErrNoSnapshot = errors.New("no cached snapshot and remote unavailable")

// ReadResult is one emission of the read path.
//
// Stale is true for values served from the local snapshot. Err is set when
// a refresh failed; Value then still carries the cached data if any existed.
type ReadResult struct {
	Key       string
	Value     []byte
	FetchedAt time.Time
	Stale     bool
	Err       error
}

// Read serves key cache-first.
//
// The returned channel yields the cached value immediately (Stale=true) when
// one exists. If connected, a refresh runs concurrently: success overwrites
// the cache and yields the fresh value; failure yields the cached value again
// with Err set, or only Err when nothing was cached. The channel is closed
// when the read is complete.
//
// A nil fetcher uses the engine default from WithFetcher.
func (e *Engine) Read(ctx context.Context, key string, fetcher Fetcher) <-chan ReadResult {
	out := make(chan ReadResult, 2)
	if fetcher == nil {
		fetcher = e.fetcher
	}

	cached, hasCached := e.readCache(ctx, key)
	if hasCached {
		out <- cached
	}

	if fetcher == nil || !e.Connected() {
		if !hasCached {
			out <- ReadResult{Key: key, Err: ErrNoSnapshot}
		}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		value, err := fetcher.Fetch(ctx, key)
		if err != nil {
			e.logger.Warn("refresh failed", "key", key, "cached", hasCached, "error", err)
			if hasCached {
				cached.Err = err
				out <- cached
				return
			}
			out <- ReadResult{Key: key, Err: err}
			return
		}

		now := e.clock.Now()
		if e.cache != nil {
			if perr := e.cache.Put(ctx, key, value, now); perr != nil {
				e.logger.Warn("snapshot write failed", "key", key, "error", perr)
			}
		}
		out <- ReadResult{Key: key, Value: value, FetchedAt: now}
	}()
	return out
}

// ReadLatest drains Read and returns the final result.
func (e *Engine) ReadLatest(ctx context.Context, key string, fetcher Fetcher) ReadResult {
	var last ReadResult
	for r := range e.Read(ctx, key, fetcher) {
		last = r
	}
	return last
}

func (e *Engine) readCache(ctx context.Context, key string) (ReadResult, bool) {
	if e.cache == nil {
		return ReadResult{}, false
	}
	entry, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("snapshot read failed", "key", key, "error", err)
		return ReadResult{}, false
	}
	if !ok {
		return ReadResult{}, false
	}
	return ReadResult{Key: key, Value: entry.Value, FetchedAt: entry.FetchedAt, Stale: true}, true
}
