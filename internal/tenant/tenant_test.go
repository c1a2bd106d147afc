package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/evstore/internal/eventstore"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

func TestStageEnsureIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	r := NewRegistry(db)
	ctx := context.Background()

	ensure := func(name string, at time.Time) bool {
		b := db.NewBatch()
		defer b.Close()
		staged, err := r.StageEnsure(b, name, at)
		if err != nil {
			t.Fatalf("ensure %s: %v", name, err)
		}
		if err := db.CommitBatch(ctx, b); err != nil {
			t.Fatalf("commit: %v", err)
		}
		return staged
	}

	t0 := time.UnixMilli(1000)
	if !ensure("globex", t0) {
		t.Fatalf("first ensure should stage")
	}
	if ensure("globex", t0.Add(time.Hour)) {
		t.Fatalf("second ensure should be a no-op")
	}
	ensure("acme", t0)

	m, ok, err := r.Get("globex")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if m.CreatedAtMs != 1000 {
		t.Fatalf("createdAt overwritten: %+v", m)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "acme" || list[1].Name != "globex" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy("", nil)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if err := p.Validate("acme-eu.1"); err != nil {
		t.Fatalf("valid tenant rejected: %v", err)
	}
	if err := p.Validate("bad tenant"); !errors.Is(err, eventstore.ErrTenantNotAllowed) {
		t.Fatalf("want ErrTenantNotAllowed, got %v", err)
	}
	if err := p.Validate(""); !errors.Is(err, eventstore.ErrTenantRequired) {
		t.Fatalf("want ErrTenantRequired, got %v", err)
	}

	p, err = NewPolicy("", []string{"acme"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if err := p.Validate("acme"); err != nil {
		t.Fatalf("allowed tenant rejected: %v", err)
	}
	if err := p.Validate("globex"); !errors.Is(err, eventstore.ErrTenantNotAllowed) {
		t.Fatalf("want ErrTenantNotAllowed, got %v", err)
	}

	if _, err := NewPolicy("(", nil); err == nil {
		t.Fatalf("expected pattern error")
	}
}
