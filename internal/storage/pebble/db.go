package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by allowing Pebble to coalesce WAL
	// syncs for operations within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application.
	FsyncModeNever
)

// ParseFsyncMode maps always|interval|never to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "always", "":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, fmt.Errorf("pebble: invalid fsync mode %q; use always|interval|never", s)
	}
}

// ErrClosed is returned by every operation once Close has been called.
var ErrClosed = errors.New("pebble: database closed")

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Metrics observes read and batch commit latencies and sizes. Optional.
	Metrics MetricsHook
	// Logger receives Pebble's internal log lines. Optional.
	Logger logpkg.Logger
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// DB wraps a Pebble database instance with fsync policy and basic helpers.
//
// Every read, commit, iterator and snapshot registers itself as in flight;
// Close refuses new operations and waits for in-flight ones before closing
// the underlying database.
type DB struct {
	inner     *pebble.DB
	writeSync bool
	metrics   MetricsHook

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Reader is the read surface shared by DB and Snapshot.
type Reader interface {
	Get(key []byte) ([]byte, error)
	NewPrefixIter(prefix []byte) (*Iterator, error)
}

var (
	_ Reader = (*DB)(nil)
	_ Reader = (*Snapshot)(nil)
)

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Logger != nil {
		po.Logger = pebbleLogger{l: opts.Logger.WithComponent("pebble")}
	}

	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync is requested per commit.
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	return &DB{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways || opts.Fsync == FsyncModeInterval,
		metrics:   metrics,
	}, nil
}

// Close closes the Pebble database once in-flight operations finish. It is
// safe to call more than once.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()
	db.inflight.Wait()
	return db.inner.Close()
}

// acquire registers an in-flight operation. It fails once Close has begun.
func (db *DB) acquire() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.inflight.Add(1)
	return nil
}

func (db *DB) release() { db.inflight.Done() }

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the provided batch with the configured fsync policy.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := db.acquire(); err != nil {
		return err
	}
	defer db.release()
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	ops, size := int(b.Count()), b.Len()

	syncMode := pebble.NoSync
	if db.writeSync {
		syncMode = pebble.Sync
	}
	err := b.Commit(syncMode)
	db.metrics.ObserveBatchCommit(time.Since(start), ops, size)
	return err
}

// Get copies the value for the given key. Missing keys return ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	if err := db.acquire(); err != nil {
		return nil, err
	}
	defer db.release()
	start := time.Now()
	buf, err := copyValue(db.inner.Get(key))
	if err != nil {
		return nil, err
	}
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// NewIter creates a Pebble iterator with the provided options. The database
// stays open until the iterator is closed.
func (db *DB) NewIter(opts *pebble.IterOptions) (*Iterator, error) {
	if err := db.acquire(); err != nil {
		return nil, err
	}
	it, err := db.inner.NewIter(opts)
	if err != nil {
		db.release()
		return nil, err
	}
	return &Iterator{Iterator: it, release: db.release}, nil
}

// NewPrefixIter iterates every key that starts with prefix.
func (db *DB) NewPrefixIter(prefix []byte) (*Iterator, error) {
	return db.NewIter(prefixOptions(prefix))
}

// NewSnapshot creates a consistent view of the database. Caller must Close
// the snapshot; the database stays open until then.
func (db *DB) NewSnapshot() (*Snapshot, error) {
	if err := db.acquire(); err != nil {
		return nil, err
	}
	return &Snapshot{inner: db.inner.NewSnapshot(), metrics: db.metrics, release: db.release}, nil
}

// Iterator is a Pebble iterator bound to the lifetime of its DB.
type Iterator struct {
	*pebble.Iterator
	release func()
	once    sync.Once
}

// Close closes the iterator and releases its hold on the database.
func (it *Iterator) Close() error {
	err := it.Iterator.Close()
	if it.release != nil {
		it.once.Do(it.release)
	}
	return err
}

// Snapshot is a point-in-time view of the database.
type Snapshot struct {
	inner   *pebble.Snapshot
	metrics MetricsHook
	release func()
	once    sync.Once
}

// Get copies the value for key as of the snapshot.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	start := time.Now()
	buf, err := copyValue(s.inner.Get(key))
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// NewPrefixIter iterates every key that starts with prefix as of the snapshot.
func (s *Snapshot) NewPrefixIter(prefix []byte) (*Iterator, error) {
	it, err := s.inner.NewIter(prefixOptions(prefix))
	if err != nil {
		return nil, err
	}
	return &Iterator{Iterator: it}, nil
}

// Close releases the snapshot. Iterators opened from it must be closed first.
func (s *Snapshot) Close() error {
	err := s.inner.Close()
	s.once.Do(s.release)
	return err
}

func copyValue(val []byte, closer io.Closer, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func prefixOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixUpperBound(prefix)}
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists (prefix of all 0xff).
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type pebbleLogger struct{ l logpkg.Logger }

func (p pebbleLogger) Infof(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.l.Error(msg)
	panic(msg)
}
