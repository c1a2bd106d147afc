package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/evstore/internal/eventlog"
	"github.com/rzbill/evstore/internal/eventstore"
	"github.com/rzbill/evstore/internal/registry"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

type fixture struct {
	db  *pebblestore.DB
	log *eventlog.Log
	reg *registry.Registry
	p   *Partitioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	log := eventlog.New(db)
	reg := registry.New(db)
	return &fixture{db: db, log: log, reg: reg, p: NewPartitioner(db, log, reg)}
}

// apply plans ops against committed state and commits them in one batch.
func (f *fixture) apply(t *testing.T, ops ...eventstore.Operation) {
	t.Helper()
	ctx := context.Background()
	current := map[eventstore.StreamID]eventstore.StreamState{}
	for _, op := range ops {
		if st, ok, err := f.reg.Get(op.Stream); err != nil {
			t.Fatalf("get: %v", err)
		} else if ok {
			current[op.Stream] = st
		}
	}
	plan, err := eventstore.PlanCommit(eventstore.Batch{Ops: ops, At: time.Now().UTC()}, current)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	b := f.db.NewBatch()
	defer b.Close()
	for _, sp := range plan.Streams {
		if err := f.p.Stage(ctx, b, sp); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}
	if err := f.db.CommitBatch(ctx, b); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

var orderID = eventstore.StreamID{TenantID: "acme", Key: "order-1"}

func appendN(id eventstore.StreamID, n int) eventstore.Operation {
	op := eventstore.Operation{Kind: eventstore.OpAppend, Stream: id, Expected: eventstore.AnyVersion}
	for i := 0; i < n; i++ {
		op.Events = append(op.Events, eventstore.Event{ID: uuid.New(), Type: "E"})
	}
	return op
}

func archive(id eventstore.StreamID) eventstore.Operation {
	return eventstore.Operation{Kind: eventstore.OpArchive, Stream: id, Expected: eventstore.AnyVersion}
}

func TestStageRoutesByArchivedFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, appendN(orderID, 3))
	if err := f.p.Verify(ctx, orderID); err != nil {
		t.Fatalf("verify active: %v", err)
	}

	f.apply(t, archive(orderID))
	st, _, _ := f.reg.Get(orderID)
	if !st.IsArchived || st.Version != 3 {
		t.Fatalf("unexpected state %+v", st)
	}
	active, _ := f.log.StreamBounds(ctx, orderID, eventstore.PartitionActive)
	archived, _ := f.log.StreamBounds(ctx, orderID, eventstore.PartitionArchived)
	if !active.Empty() || archived.Count != 3 {
		t.Fatalf("events not moved: active=%+v archived=%+v", active, archived)
	}
	if err := f.p.Verify(ctx, orderID); err != nil {
		t.Fatalf("verify archived: %v", err)
	}
}

func TestStageCreateAndArchiveInOneBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, appendN(orderID, 2), archive(orderID))

	archived, _ := f.log.StreamBounds(ctx, orderID, eventstore.PartitionArchived)
	if archived.Count != 2 {
		t.Fatalf("new events should land in archived partition, got %+v", archived)
	}
	if err := f.p.Verify(ctx, orderID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyDetectsSplitStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, appendN(orderID, 2))

	// Simulate a torn archive: flag flipped without moving events.
	st, _, _ := f.reg.Get(orderID)
	st.IsArchived = true
	b := f.db.NewBatch()
	if err := f.reg.StagePut(b, st); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := f.db.CommitBatch(ctx, b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()

	err := f.p.Verify(ctx, orderID)
	if !errors.Is(err, eventstore.ErrPartialCommit) {
		t.Fatalf("want ErrPartialCommit, got %v", err)
	}
}

func TestVerifyDetectsMissingEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, appendN(orderID, 3))
	b := f.db.NewBatch()
	if err := b.Delete(eventlog.KeyEvent(eventstore.PartitionActive, orderID, 2), nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.db.CommitBatch(ctx, b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()
	if err := f.p.Verify(ctx, orderID); !errors.Is(err, eventstore.ErrPartialCommit) {
		t.Fatalf("want ErrPartialCommit, got %v", err)
	}
}

func TestVerifyUnknownStream(t *testing.T) {
	f := newFixture(t)
	err := f.p.Verify(context.Background(), orderID)
	if !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
