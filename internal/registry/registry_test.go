package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/evstore/internal/eventstore"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

func newTestRegistry(t *testing.T) (*Registry, *pebblestore.DB) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func put(t *testing.T, r *Registry, db *pebblestore.DB, states ...eventstore.StreamState) {
	t.Helper()
	b := db.NewBatch()
	defer b.Close()
	for _, st := range states {
		if err := r.StagePut(b, st); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, ok, err := r.Get(eventstore.StreamID{TenantID: "acme", Key: "nope"})
	if err != nil || ok {
		t.Fatalf("want missing, got ok=%v err=%v", ok, err)
	}
}

func TestPutAndGet(t *testing.T) {
	r, db := newTestRegistry(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := eventstore.StreamState{TenantID: "acme", Key: "order-1", Version: 3, CreatedAt: at, LastTimestamp: at, IsArchived: true, ArchivedAt: &at}
	put(t, r, db, st)

	got, ok, err := r.Get(st.ID())
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Version != 3 || !got.IsArchived || got.ArchivedAt == nil || !got.ArchivedAt.Equal(at) || !got.CreatedAt.Equal(at) {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestStreamsScopedToTenant(t *testing.T) {
	r, db := newTestRegistry(t)
	put(t, r, db,
		eventstore.StreamState{TenantID: "acme", Key: "b", Version: 1},
		eventstore.StreamState{TenantID: "acme", Key: "a", Version: 2},
		eventstore.StreamState{TenantID: "acme-eu", Key: "a", Version: 9},
	)
	var keys []string
	err := r.Streams(context.Background(), "acme", func(st eventstore.StreamState) error {
		keys = append(keys, st.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}

	stop := errors.New("stop")
	n := 0
	err = r.Streams(context.Background(), "acme", func(eventstore.StreamState) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("expected early stop, got %v after %d", err, n)
	}
}
