package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rzbill/evstore/internal/archive"
	cfgpkg "github.com/rzbill/evstore/internal/config"
	"github.com/rzbill/evstore/internal/engine"
	"github.com/rzbill/evstore/internal/eventstore"
	"github.com/rzbill/evstore/internal/metrics"
	"github.com/rzbill/evstore/internal/notify"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
	"github.com/rzbill/evstore/internal/storage/sqlstore"
	"github.com/rzbill/evstore/internal/tenant"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// SQLiteFile is the database file name used under data_dir when the sqlite
// driver is selected without a DSN.
const SQLiteFile = "evstore.db"

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Metrics is created when nil.
	Metrics *metrics.Metrics
}

// Runtime wires a storage backend, the tenancy policy, metrics and commit
// notifications into a single-node Store.
type Runtime struct {
	config   cfgpkg.Config
	backend  eventstore.Backend
	store    *eventstore.Store
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	logger   logpkg.Logger
}

// Open initializes the configured backend and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	policy, err := tenant.NewPolicy(cfg.Tenancy.NameRegex, cfg.Tenancy.AllowedTenants)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{config: cfg, backend: backend, metrics: m, logger: logger}
	storeOpts := []eventstore.Option{
		eventstore.WithLogger(logger.WithComponent("store")),
		eventstore.WithTenantValidator(policy),
		eventstore.WithInstrumentation(m),
	}
	if cfg.Notify.Enabled {
		rt.notifier = notify.New(notify.Options{TopicPrefix: cfg.Notify.TopicPrefix, Logger: logger})
		storeOpts = append(storeOpts, eventstore.WithObserver(rt.notifier))
	}
	rt.store = eventstore.New(backend, storeOpts...)

	logger.Info("runtime opened",
		logpkg.Str("driver", cfg.Storage.Driver),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Bool("notify", cfg.Notify.Enabled),
	)
	return rt, nil
}

func openBackend(ctx context.Context, cfg cfgpkg.Config, logger logpkg.Logger, m *metrics.Metrics) (eventstore.Backend, error) {
	switch cfg.Storage.Driver {
	case "", "pebble":
		fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
		if err != nil {
			return nil, err
		}
		return engine.Open(engine.Options{
			Storage: pebblestore.Options{
				DataDir:       cfg.DataDir,
				Fsync:         fsync,
				FsyncInterval: cfg.Storage.FsyncInterval,
				Metrics:       m,
			},
			Logger: logger,
		})
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		dsn := cfg.Storage.DSN
		if dsn == "" && cfg.Storage.Driver == sqlstore.DriverSQLite {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, SQLiteFile)
		}
		b := cfg.Storage.Breaker
		return sqlstore.Open(ctx, sqlstore.Options{
			Driver:       cfg.Storage.Driver,
			DSN:          dsn,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			Breaker: sqlstore.BreakerOptions{
				FailureThreshold: b.FailureThreshold,
				Timeout:          b.Timeout,
				Interval:         b.Interval,
				MaxRequests:      b.MaxRequests,
			},
			Logger:               logger,
			OnBreakerStateChange: m.BreakerStateChanged,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewAuditor builds the integrity auditor over the runtime's store using the
// configured schedule.
func (r *Runtime) NewAuditor() (*archive.Auditor, error) {
	return archive.NewAuditor(r.store, r.config.Archive.VerifySchedule, r.logger)
}

// Close releases the notifier and the backend.
func (r *Runtime) Close() error {
	var errs []error
	if r.notifier != nil {
		errs = append(errs, r.notifier.Close())
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth reports whether the backend is reachable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return errors.New("store not open")
	}
	return r.store.Health(ctx)
}

// Store returns the event store.
func (r *Runtime) Store() *eventstore.Store { return r.store }

// Backend exposes the storage backend (internal use only).
func (r *Runtime) Backend() eventstore.Backend { return r.backend }

// Metrics returns the collectors fed by the store and backend.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Notifier returns the commit notifier, or nil when notifications are disabled.
func (r *Runtime) Notifier() *notify.Notifier { return r.notifier }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
