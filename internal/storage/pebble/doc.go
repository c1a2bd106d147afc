// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, prefix iteration and minimal metrics hooks.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic updates with batches
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	// Prefix scans
//	it, _ := db.NewPrefixIter([]byte("st/"))
//	defer it.Close()
//
// Close waits for open iterators, snapshots and in-flight commits. Once Close
// has begun every new operation returns ErrClosed instead of panicking inside
// Pebble.
package pebblestore
