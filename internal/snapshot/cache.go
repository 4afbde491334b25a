package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var keyPrefix = []byte("snap/")

// Entry is a cached server representation.
type Entry struct {
	Value     []byte
	FetchedAt time.Time
}

// Cache stores the last known server value per key.
//
// Writes are last-writer-wins: the read path overwrites with whatever the
// server returned most recently.
type Cache struct {
	db *DB
}

// NewCache creates a cache over db.
func NewCache(db *DB) *Cache {
	return &Cache{db: db}
}

func cacheKey(key string) []byte {
	return append(append([]byte(nil), keyPrefix...), key...)
}

// Get returns the cached entry for key. A missing or corrupt frame is a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	raw, err := c.db.Get(cacheKey(key))
	if errors.Is(err, ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("snapshot get %s: %w", key, err)
	}

	header, payload, ok := decodeFrame(raw)
	if !ok || len(header) != 8 {
		return Entry{}, false, nil
	}
	ms := int64(binary.BigEndian.Uint64(header))
	return Entry{
		Value:     append([]byte(nil), payload...),
		FetchedAt: time.UnixMilli(ms).UTC(),
	}, true, nil
}

// Put overwrites the cached value for key.
func (c *Cache) Put(ctx context.Context, key string, value []byte, fetchedAt time.Time) error {
	header := binary.BigEndian.AppendUint64(nil, uint64(fetchedAt.UnixMilli()))
	if err := c.db.Set(ctx, cacheKey(key), encodeFrame(header, value)); err != nil {
		return fmt.Errorf("snapshot put %s: %w", key, err)
	}
	return nil
}

// Keys lists cached keys in byte order.
func (c *Cache) Keys() ([]string, error) {
	raw, err := c.db.Keys(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("snapshot keys: %w", err)
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = string(k[len(keyPrefix):])
	}
	return keys, nil
}
