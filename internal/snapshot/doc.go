// Package snapshot is the local read cache behind the engine's cache-first
// read path, stored in Pebble.
//
// Usage:
//
//	db, err := snapshot.Open(snapshot.Options{Dir: "./cache"})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	cache := snapshot.NewCache(db)
//	_ = cache.Put(ctx, "cart-42", body, time.Now())
//	entry, ok, err := cache.Get(ctx, "cart-42")
//
// Entries are framed as varint headerLen | header | value | crc32c, where the
// header carries the fetch time. A frame failing its checksum reads as a miss
// so a torn write can never surface corrupt data.
package snapshot
