// Package engine is the Pebble-backed eventstore.Backend.
//
// A commit takes the stream locks of every stream in the batch in sorted
// order, reads their registry entries, plans the batch and writes registry
// updates, event appends and partition moves in a single Pebble batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/evstore/internal/archive"
	"github.com/rzbill/evstore/internal/eventlog"
	"github.com/rzbill/evstore/internal/eventstore"
	"github.com/rzbill/evstore/internal/registry"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
	"github.com/rzbill/evstore/internal/tenant"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// Options for opening an Engine.
type Options struct {
	Storage pebblestore.Options
	Logger  logpkg.Logger
}

// Engine implements eventstore.Backend over Pebble.
type Engine struct {
	db      *pebblestore.DB
	log     *eventlog.Log
	reg     *registry.Registry
	tenants *tenant.Registry
	part    *archive.Partitioner
	locks   *lockManager
	logger  logpkg.Logger
}

var _ eventstore.Backend = (*Engine)(nil)

// Open opens the Pebble database and returns an Engine owning it.
func Open(opts Options) (*Engine, error) {
	if opts.Storage.Logger == nil {
		opts.Storage.Logger = opts.Logger
	}
	db, err := pebblestore.Open(opts.Storage)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return New(db, opts.Logger), nil
}

// New builds an Engine over an open database. Close closes db.
func New(db *pebblestore.DB, logger logpkg.Logger) *Engine {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	log := eventlog.New(db)
	reg := registry.New(db)
	return &Engine{
		db:      db,
		log:     log,
		reg:     reg,
		tenants: tenant.NewRegistry(db),
		part:    archive.NewPartitioner(db, log, reg),
		locks:   newLockManager(),
		logger:  logger.WithComponent("engine"),
	}
}

// DB exposes the underlying store.
func (e *Engine) DB() *pebblestore.DB { return e.db }

// Commit applies b atomically.
func (e *Engine) Commit(ctx context.Context, b eventstore.Batch) (eventstore.CommitResult, error) {
	ids := b.StreamIDs()
	lockIDs, err := e.withTenantLocks(b.Tenants(), ids)
	if err != nil {
		return eventstore.CommitResult{}, storageErr("load tenants", err)
	}
	release, err := e.locks.acquire(ctx, lockIDs)
	if err != nil {
		return eventstore.CommitResult{}, storageErr("acquire stream locks", err)
	}
	defer release()

	current := make(map[eventstore.StreamID]eventstore.StreamState, len(ids))
	for _, id := range ids {
		st, ok, err := e.reg.Get(id)
		if err != nil {
			return eventstore.CommitResult{}, storageErr("load stream", err)
		}
		if ok {
			current[id] = st
		}
	}

	plan, err := eventstore.PlanCommit(b, current)
	if err != nil {
		return eventstore.CommitResult{}, err
	}

	batch := e.db.NewBatch()
	defer batch.Close()

	changedTenants := map[string]bool{}
	for _, sp := range plan.Streams {
		if !sp.Changed() {
			continue
		}
		if !changedTenants[sp.Stream.TenantID] {
			changedTenants[sp.Stream.TenantID] = true
			if _, err := e.tenants.StageEnsure(batch, sp.Stream.TenantID, b.At); err != nil {
				return eventstore.CommitResult{}, storageErr("stage tenant", err)
			}
		}
		if err := e.part.Stage(ctx, batch, sp); err != nil {
			return eventstore.CommitResult{}, storageErr("stage", err)
		}
	}
	if batch.Empty() {
		return plan.Result(), nil
	}
	if err := e.db.CommitBatch(ctx, batch); err != nil {
		return eventstore.CommitResult{}, storageErr("commit batch", err)
	}
	return plan.Result(), nil
}

// withTenantLocks adds a pseudo stream id per not-yet-registered tenant so
// that first commits of a tenant record it exactly once. The empty key sorts
// before every stream of the tenant.
func (e *Engine) withTenantLocks(tenants []string, ids []eventstore.StreamID) ([]eventstore.StreamID, error) {
	out := ids
	for _, t := range tenants {
		_, ok, err := e.tenants.Get(t)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		if len(out) == len(ids) {
			out = append([]eventstore.StreamID(nil), ids...)
		}
		out = append(out, eventstore.StreamID{TenantID: t})
	}
	if len(out) != len(ids) {
		sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	}
	return out, nil
}

// LoadStream returns the committed registry entry for id.
func (e *Engine) LoadStream(ctx context.Context, id eventstore.StreamID) (eventstore.StreamState, bool, error) {
	st, ok, err := e.reg.Get(id)
	if err != nil {
		return eventstore.StreamState{}, false, storageErr("load stream", err)
	}
	return st, ok, nil
}

func (e *Engine) ReadStream(ctx context.Context, id eventstore.StreamID, p eventstore.Partition, opts eventstore.ReadOptions) ([]eventstore.Event, error) {
	events, err := e.log.ReadStream(ctx, id, p, opts)
	if err != nil {
		return nil, storageErr("read stream", err)
	}
	return events, nil
}

func (e *Engine) Scan(ctx context.Context, tenantID string, p eventstore.Partition, opts eventstore.ScanOptions) (eventstore.Page, error) {
	page, err := e.log.Scan(ctx, tenantID, p, opts)
	if err != nil {
		return eventstore.Page{}, storageErr("scan", err)
	}
	return page, nil
}

func (e *Engine) VerifyStream(ctx context.Context, id eventstore.StreamID) error {
	err := e.part.Verify(ctx, id)
	if err == nil || errors.Is(err, eventstore.ErrPartialCommit) || errors.Is(err, eventstore.ErrNotFound) {
		return err
	}
	return storageErr("verify", err)
}

func (e *Engine) Streams(ctx context.Context, tenantID string, fn func(eventstore.StreamState) error) error {
	return e.reg.Streams(ctx, tenantID, fn)
}

func (e *Engine) Tenants(ctx context.Context) ([]string, error) {
	metas, err := e.tenants.List(ctx)
	if err != nil {
		return nil, storageErr("list tenants", err)
	}
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.Name
	}
	return out, nil
}

// Health performs a simple read against the database.
func (e *Engine) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := e.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return storageErr("health", err)
	}
	it.First()
	return it.Close()
}

func (e *Engine) Close() error { return e.db.Close() }

// storageErr classifies errors from the storage layer. Domain errors pass
// through; a closed database or an expired deadline becomes
// ErrStorageUnavailable.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pebblestore.ErrClosed),
		errors.Is(err, pebble.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return eventstore.Unavailable(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
