package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	json "github.com/goccy/go-json"

	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

// Meta holds tenant metadata recorded on the tenant's first commit.
type Meta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

var (
	tenantMetaPrefix = []byte("tn/")
)

// tenantMetaKey builds the metadata key for a tenant.
func tenantMetaKey(name string) []byte {
	k := make([]byte, 0, len(tenantMetaPrefix)+len(name)+2)
	k = append(k, tenantMetaPrefix...)
	return pebblestore.AppendString(k, name)
}

// Registry records which tenants have committed data.
type Registry struct {
	db *pebblestore.DB
}

// NewRegistry returns a Registry over db.
func NewRegistry(db *pebblestore.DB) *Registry {
	return &Registry{db: db}
}

// Get loads a tenant's meta.
func (r *Registry) Get(name string) (Meta, bool, error) {
	b, err := r.db.Get(tenantMetaKey(name))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false, fmt.Errorf("tenant %q: %w", name, err)
	}
	return m, true, nil
}

// StageEnsure adds a meta record for name to batch b unless one is already
// committed. It reports whether a record was staged.
func (r *Registry) StageEnsure(b *pebble.Batch, name string, at time.Time) (bool, error) {
	if _, ok, err := r.Get(name); err != nil || ok {
		return false, err
	}
	val, err := json.Marshal(Meta{Name: name, CreatedAtMs: at.UnixMilli()})
	if err != nil {
		return false, err
	}
	if err := b.Set(tenantMetaKey(name), val, nil); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every recorded tenant in name order.
func (r *Registry) List(ctx context.Context) ([]Meta, error) {
	iter, err := r.db.NewPrefixIter(tenantMetaPrefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Meta
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m Meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("tenant %q: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}
