package eventlog

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/evstore/internal/eventstore"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

// ctxCheckEvery bounds how many keys an iteration visits between ctx checks.
const ctxCheckEvery = 256

// Log stores stream events in the active and archived partitions.
//
// Writes are staged into a caller-owned batch so that registry updates and
// partition moves commit together. Log holds no per-stream state; callers
// serialize writers to the same stream.
type Log struct {
	db pebblestore.Reader
}

// New returns a Log over db.
func New(db *pebblestore.DB) *Log {
	return &Log{db: db}
}

// At returns a Log reading from snap. Staged writes still go to the caller's
// batch.
func (l *Log) At(snap *pebblestore.Snapshot) *Log {
	return &Log{db: snap}
}

// StageAppend writes events into partition p of batch b. Events must carry
// their assigned tenant, stream key and sequence.
func (l *Log) StageAppend(b *pebble.Batch, p eventstore.Partition, events []eventstore.Event) error {
	for _, ev := range events {
		if ev.Sequence <= 0 {
			return fmt.Errorf("eventlog: event %s has no sequence", ev.ID)
		}
		val, err := encodeEvent(ev)
		if err != nil {
			return fmt.Errorf("eventlog: encode %s: %w", ev.ID, err)
		}
		id := eventstore.StreamID{TenantID: ev.TenantID, Key: ev.StreamKey}
		if err := b.Set(KeyEvent(p, id, uint64(ev.Sequence)), val, nil); err != nil {
			return err
		}
	}
	return nil
}

// StageArchive copies every committed active event of id into the archived
// partition and deletes the active copies, all within batch b. It returns the
// number of events moved.
func (l *Log) StageArchive(ctx context.Context, b *pebble.Batch, id eventstore.StreamID) (int, error) {
	prefix := KeyStreamPrefix(eventstore.PartitionActive, id)
	iter, err := l.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	moved := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		if moved%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
		}
		seq, _, err := pebblestore.ReadUint64(iter.Key()[len(prefix):])
		if err != nil {
			return moved, err
		}
		if err := b.Set(KeyEvent(eventstore.PartitionArchived, id, seq), iter.Value(), nil); err != nil {
			return moved, err
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, iter.Error()
}

// ReadStream returns the events of id held in partition p, in sequence order.
func (l *Log) ReadStream(ctx context.Context, id eventstore.StreamID, p eventstore.Partition, opts eventstore.ReadOptions) ([]eventstore.Event, error) {
	prefix := KeyStreamPrefix(p, id)
	iter, err := l.db.NewPrefixIter(prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	from := opts.FromSequence
	if from < 1 {
		from = 1
	}
	var out []eventstore.Event
	for ok := iter.SeekGE(KeyEvent(p, id, uint64(from))); ok; ok = iter.Next() {
		if len(out)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ev, err := l.decode(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, iter.Error()
}

// Scan returns one page of tenant's events in partition p, ordered by stream
// key then sequence, resuming strictly after opts.After.
func (l *Log) Scan(ctx context.Context, tenant string, p eventstore.Partition, opts eventstore.ScanOptions) (eventstore.Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = eventstore.DefaultScanLimit
	}
	iter, err := l.db.NewPrefixIter(KeyTenantPrefix(p, tenant))
	if err != nil {
		return eventstore.Page{}, err
	}
	defer iter.Close()

	var ok bool
	if opts.After != nil {
		after := KeyEvent(p, eventstore.StreamID{TenantID: tenant, Key: opts.After.StreamKey}, uint64(opts.After.Sequence))
		ok = iter.SeekGE(after)
		if ok && bytes.Equal(iter.Key(), after) {
			ok = iter.Next()
		}
	} else {
		ok = iter.First()
	}

	page := eventstore.Page{Events: make([]eventstore.Event, 0, min(limit, 64))}
	for ; ok; ok = iter.Next() {
		if len(page.Events) == limit {
			last := page.Events[limit-1]
			page.Next = &eventstore.Cursor{StreamKey: last.StreamKey, Sequence: last.Sequence}
			break
		}
		if len(page.Events)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return eventstore.Page{}, err
			}
		}
		ev, err := l.decode(iter.Key(), iter.Value())
		if err != nil {
			return eventstore.Page{}, err
		}
		page.Events = append(page.Events, ev)
	}
	return page, iter.Error()
}

// Bounds describes the sequences of one stream held in a partition.
type Bounds struct {
	Count int
	First uint64
	Last  uint64
}

// Empty reports whether the partition holds no events for the stream.
func (b Bounds) Empty() bool { return b.Count == 0 }

// StreamBounds counts the events of id in partition p.
func (l *Log) StreamBounds(ctx context.Context, id eventstore.StreamID, p eventstore.Partition) (Bounds, error) {
	prefix := KeyStreamPrefix(p, id)
	iter, err := l.db.NewPrefixIter(prefix)
	if err != nil {
		return Bounds{}, err
	}
	defer iter.Close()

	var out Bounds
	for ok := iter.First(); ok; ok = iter.Next() {
		if out.Count%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Bounds{}, err
			}
		}
		seq, _, err := pebblestore.ReadUint64(iter.Key()[len(prefix):])
		if err != nil {
			return Bounds{}, err
		}
		if out.Count == 0 {
			out.First = seq
		}
		out.Last = seq
		out.Count++
	}
	return out, iter.Error()
}

func (l *Log) decode(key, val []byte) (eventstore.Event, error) {
	k, err := DecodeEventKey(key)
	if err != nil {
		return eventstore.Event{}, err
	}
	ev, err := decodeEvent(k, val)
	if err != nil {
		return eventstore.Event{}, fmt.Errorf("%s seq %d: %w", k.Stream, k.Sequence, err)
	}
	return ev, nil
}
