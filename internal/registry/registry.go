// Package registry persists the stream registry: one record per stream
// holding its version, archived flag and timestamps.
//
// Layout: st/{tenant}{stream} -> JSON StreamState
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	json "github.com/goccy/go-json"

	"github.com/rzbill/evstore/internal/eventstore"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

var streamPrefix = []byte("st/")

func keyTenant(tenant string) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(tenant)+2)
	k = append(k, streamPrefix...)
	return pebblestore.AppendString(k, tenant)
}

func keyStream(id eventstore.StreamID) []byte {
	return pebblestore.AppendString(keyTenant(id.TenantID), id.Key)
}

// Registry reads and stages stream registry records.
type Registry struct {
	db pebblestore.Reader
}

// New returns a Registry over db.
func New(db *pebblestore.DB) *Registry {
	return &Registry{db: db}
}

// At returns a Registry reading from snap.
func (r *Registry) At(snap *pebblestore.Snapshot) *Registry {
	return &Registry{db: snap}
}

// Get loads the committed state of id.
func (r *Registry) Get(id eventstore.StreamID) (eventstore.StreamState, bool, error) {
	b, err := r.db.Get(keyStream(id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return eventstore.StreamState{}, false, nil
	}
	if err != nil {
		return eventstore.StreamState{}, false, err
	}
	st, err := decode(b)
	if err != nil {
		return eventstore.StreamState{}, false, fmt.Errorf("registry %s: %w", id, err)
	}
	return st, true, nil
}

// StagePut writes st into batch b.
func (r *Registry) StagePut(b *pebble.Batch, st eventstore.StreamState) error {
	val, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return b.Set(keyStream(st.ID()), val, nil)
}

// Streams calls fn for each stream of tenant in key order. Returning an error
// from fn stops the iteration and is returned as is.
func (r *Registry) Streams(ctx context.Context, tenant string, fn func(eventstore.StreamState) error) error {
	iter, err := r.db.NewPrefixIter(keyTenant(tenant))
	if err != nil {
		return err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := decode(iter.Value())
		if err != nil {
			return fmt.Errorf("registry %q: %w", iter.Key(), err)
		}
		if err := fn(st); err != nil {
			return err
		}
	}
	return iter.Error()
}

func decode(b []byte) (eventstore.StreamState, error) {
	var st eventstore.StreamState
	if err := json.Unmarshal(b, &st); err != nil {
		return eventstore.StreamState{}, err
	}
	return st, nil
}
