package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("snapshot: not found")

// FsyncMode defines durability behavior for writes.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every write.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever never forces a WAL sync. A lost snapshot is refetched,
	// so this is acceptable for a cache.
	FsyncModeNever
)

// Options configures the Pebble database.
type Options struct {
	// Dir is the database directory.
	Dir string
	// Fsync determines when to sync the WAL. Defaults to interval syncing.
	Fsync FsyncMode
	// FsyncInterval controls group commit when Fsync is FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning. Nil uses defaults.
	PebbleOptions *pebble.Options
}

// DB wraps a Pebble database with an fsync policy and copy-out reads.
type DB struct {
	inner     *pebble.DB
	writeSync bool
}

// Open creates or opens the database at opts.Dir.
func Open(opts Options) (*DB, error) {
	if opts.Dir == "" {
		return nil, errors.New("snapshot: Options.Dir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	switch opts.Fsync {
	case FsyncModeAlways, FsyncModeNever:
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, err
	}
	return &DB{inner: inner, writeSync: opts.Fsync == FsyncModeAlways}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) commit(b *pebble.Batch) error {
	mode := pebble.NoSync
	if db.writeSync {
		mode = pebble.Sync
	}
	return b.Commit(mode)
}

// Set writes key=value respecting the fsync policy.
func (db *DB) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	return db.commit(b)
}

// Get returns a copy of the value for key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Keys returns every key with the given prefix in byte order.
func (db *DB) Keys(prefix []byte) ([][]byte, error) {
	iter, err := db.inner.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	return keys, iter.Error()
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
