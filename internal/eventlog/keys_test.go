package eventlog

import (
	"bytes"
	"testing"

	"github.com/rzbill/evstore/internal/eventstore"
)

func TestKeyOrderingEntries(t *testing.T) {
	id := eventstore.StreamID{TenantID: "acme", Key: "order-1"}
	a := KeyEvent(eventstore.PartitionActive, id, 10)
	b := KeyEvent(eventstore.PartitionActive, id, 11)
	if !bytes.HasPrefix(a, KeyStreamPrefix(eventstore.PartitionActive, id)) {
		t.Fatalf("entry key should share prefix with stream")
	}
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected seq 10 < seq 11")
	}
}

func TestTenantPrefixIsolation(t *testing.T) {
	short := KeyTenantPrefix(eventstore.PartitionActive, "acme")
	long := KeyEvent(eventstore.PartitionActive, eventstore.StreamID{TenantID: "acme-eu", Key: "x"}, 1)
	if bytes.HasPrefix(long, short) {
		t.Fatalf("tenant acme prefix must not cover acme-eu keys")
	}
	archived := KeyEvent(eventstore.PartitionArchived, eventstore.StreamID{TenantID: "acme", Key: "x"}, 1)
	if bytes.HasPrefix(archived, short) {
		t.Fatalf("active prefix must not cover archived keys")
	}
}

func TestDecodeEventKey(t *testing.T) {
	id := eventstore.StreamID{TenantID: "t\x00", Key: "s/1"}
	k, err := DecodeEventKey(KeyEvent(eventstore.PartitionArchived, id, 7))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if k.Stream != id || k.Sequence != 7 || k.Partition != eventstore.PartitionArchived {
		t.Fatalf("unexpected key %+v", k)
	}
	if _, err := DecodeEventKey([]byte("st/whatever")); err == nil {
		t.Fatalf("expected error for foreign key")
	}
}
