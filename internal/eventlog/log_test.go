package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/evstore/internal/eventstore"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

func newTestLog(t *testing.T) (*Log, *pebblestore.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func makeEvents(tenant, key string, from, n int) []eventstore.Event {
	out := make([]eventstore.Event, n)
	for i := range out {
		out[i] = eventstore.Event{
			ID:        uuid.New(),
			TenantID:  tenant,
			StreamKey: key,
			Sequence:  int64(from + i),
			Type:      "E",
			Data:      []byte{byte(from + i)},
			Timestamp: time.Unix(int64(from+i), 0).UTC(),
		}
	}
	return out
}

func seed(t *testing.T, l *Log, db *pebblestore.DB, p eventstore.Partition, events []eventstore.Event) {
	t.Helper()
	b := db.NewBatch()
	defer b.Close()
	if err := l.StageAppend(b, p, events); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestReadStreamForward(t *testing.T) {
	l, db := newTestLog(t)
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme", "s1", 1, 5))
	id := eventstore.StreamID{TenantID: "acme", Key: "s1"}
	ctx := context.Background()

	events, err := l.ReadStream(ctx, id, eventstore.PartitionActive, eventstore.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 5 || events[0].Sequence != 1 || events[4].Sequence != 5 {
		t.Fatalf("unexpected events: %+v", events)
	}

	events, err = l.ReadStream(ctx, id, eventstore.PartitionActive, eventstore.ReadOptions{FromSequence: 3, Limit: 2})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Fatalf("seek failed: %+v", events)
	}

	events, err = l.ReadStream(ctx, id, eventstore.PartitionArchived, eventstore.ReadOptions{})
	if err != nil || len(events) != 0 {
		t.Fatalf("archived partition should be empty: %v %d", err, len(events))
	}
}

func TestStageArchiveMovesEvents(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme", "s1", 1, 3))
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme", "s2", 1, 2))
	id := eventstore.StreamID{TenantID: "acme", Key: "s1"}

	b := db.NewBatch()
	moved, err := l.StageArchive(ctx, b, id)
	if err != nil {
		t.Fatalf("stage archive: %v", err)
	}
	if moved != 3 {
		t.Fatalf("want 3 moved, got %d", moved)
	}
	// Not visible until commit.
	if bnd, _ := l.StreamBounds(ctx, id, eventstore.PartitionArchived); !bnd.Empty() {
		t.Fatalf("archive visible before commit")
	}
	if err := db.CommitBatch(ctx, b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()

	active, err := l.StreamBounds(ctx, id, eventstore.PartitionActive)
	if err != nil || !active.Empty() {
		t.Fatalf("active partition should be empty: %+v %v", active, err)
	}
	archived, err := l.StreamBounds(ctx, id, eventstore.PartitionArchived)
	if err != nil || archived.Count != 3 || archived.First != 1 || archived.Last != 3 {
		t.Fatalf("unexpected archived bounds: %+v %v", archived, err)
	}
	events, err := l.ReadStream(ctx, id, eventstore.PartitionArchived, eventstore.ReadOptions{})
	if err != nil || len(events) != 3 || !events[0].Archived {
		t.Fatalf("unexpected archived events: %+v %v", events, err)
	}
	other, _ := l.StreamBounds(ctx, eventstore.StreamID{TenantID: "acme", Key: "s2"}, eventstore.PartitionActive)
	if other.Count != 2 {
		t.Fatalf("sibling stream must stay active, got %+v", other)
	}
}

func TestScanPagesByStreamThenSequence(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme", "b", 1, 2))
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme", "a", 1, 3))
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme-eu", "a", 1, 4))

	var got []eventstore.Event
	opts := eventstore.ScanOptions{Limit: 2}
	pages := 0
	for {
		page, err := l.Scan(ctx, "acme", eventstore.PartitionActive, opts)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		pages++
		got = append(got, page.Events...)
		if page.Next == nil {
			break
		}
		opts.After = page.Next
	}
	if len(got) != 5 {
		t.Fatalf("want 5 events, got %d", len(got))
	}
	want := []struct {
		key string
		seq int64
	}{{"a", 1}, {"a", 2}, {"a", 3}, {"b", 1}, {"b", 2}}
	for i, w := range want {
		if got[i].StreamKey != w.key || got[i].Sequence != w.seq || got[i].TenantID != "acme" {
			t.Fatalf("event %d: got %s/%d", i, got[i].StreamKey, got[i].Sequence)
		}
	}
	if pages != 3 {
		t.Fatalf("want 3 pages, got %d", pages)
	}
}

func TestScanCancelled(t *testing.T) {
	l, db := newTestLog(t)
	seed(t, l, db, eventstore.PartitionActive, makeEvents("acme", "a", 1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Scan(ctx, "acme", eventstore.PartitionActive, eventstore.ScanOptions{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestStageAppendRequiresSequence(t *testing.T) {
	l, db := newTestLog(t)
	b := db.NewBatch()
	defer b.Close()
	ev := makeEvents("acme", "a", 0, 1)
	if err := l.StageAppend(b, eventstore.PartitionActive, ev); err == nil {
		t.Fatalf("expected error for zero sequence")
	}
}
