package eventlog

import (
	"bytes"
	"fmt"

	"github.com/rzbill/evstore/internal/eventstore"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - ev/a/{tenant}{stream}{seq_be8}   active partition
// - ev/x/{tenant}{stream}{seq_be8}   archived partition
//
// {tenant} and {stream} are escaped, terminated components so a tenant
// prefix never matches another tenant whose id extends it.

var (
	activePrefix   = []byte("ev/a/")
	archivedPrefix = []byte("ev/x/")
)

func partitionPrefix(p eventstore.Partition) []byte {
	if p == eventstore.PartitionArchived {
		return archivedPrefix
	}
	return activePrefix
}

// KeyTenantPrefix covers every event of tenant in partition p.
func KeyTenantPrefix(p eventstore.Partition, tenant string) []byte {
	pre := partitionPrefix(p)
	k := make([]byte, 0, len(pre)+len(tenant)+2)
	k = append(k, pre...)
	return pebblestore.AppendString(k, tenant)
}

// KeyStreamPrefix covers every event of one stream in partition p.
func KeyStreamPrefix(p eventstore.Partition, id eventstore.StreamID) []byte {
	k := KeyTenantPrefix(p, id.TenantID)
	return pebblestore.AppendString(k, id.Key)
}

// KeyEvent builds the entry key with a big-endian sequence for proper ordering.
func KeyEvent(p eventstore.Partition, id eventstore.StreamID, seq uint64) []byte {
	return pebblestore.AppendUint64(KeyStreamPrefix(p, id), seq)
}

// EventKey is a decoded event key.
type EventKey struct {
	Partition eventstore.Partition
	Stream    eventstore.StreamID
	Sequence  uint64
}

// DecodeEventKey parses a key built by KeyEvent.
func DecodeEventKey(k []byte) (EventKey, error) {
	var out EventKey
	switch {
	case bytes.HasPrefix(k, activePrefix):
		out.Partition = eventstore.PartitionActive
	case bytes.HasPrefix(k, archivedPrefix):
		out.Partition = eventstore.PartitionArchived
	default:
		return EventKey{}, fmt.Errorf("%w: %q", pebblestore.ErrBadKey, k)
	}
	rest := k[len(activePrefix):]
	tenant, rest, err := pebblestore.ReadString(rest)
	if err != nil {
		return EventKey{}, err
	}
	stream, rest, err := pebblestore.ReadString(rest)
	if err != nil {
		return EventKey{}, err
	}
	seq, rest, err := pebblestore.ReadUint64(rest)
	if err != nil {
		return EventKey{}, err
	}
	if len(rest) != 0 {
		return EventKey{}, fmt.Errorf("%w: trailing bytes", pebblestore.ErrBadKey)
	}
	out.Stream = eventstore.StreamID{TenantID: tenant, Key: stream}
	out.Sequence = seq
	return out, nil
}
