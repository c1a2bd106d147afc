// Package sqlstore is the relational eventstore.Backend. The same schema and
// queries run on SQLite (modernc.org/sqlite, no cgo) and PostgreSQL (lib/pq).
//
// Tables:
//   - streams(tenant_id, stream_key, version, is_archived, created_at_ns, last_ts_ns, archived_at_ns)
//   - events_active / events_archived(tenant_id, stream_key, sequence, event_id, event_type, data, metadata, ts_ns)
//   - tenants(tenant_id, created_at_ns)
//
// Every commit is one transaction. Stream rows are locked before they are
// read: PostgreSQL through SELECT ... FOR UPDATE, SQLite through immediate
// transactions, which take the database write lock at BEGIN.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	gobreaker "github.com/sony/gobreaker/v2"
	_ "modernc.org/sqlite"

	"github.com/rzbill/evstore/internal/eventstore"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

const (
	tableActive   = "events_active"
	tableArchived = "events_archived"
)

func table(p eventstore.Partition) string {
	if p == eventstore.PartitionArchived {
		return tableArchived
	}
	return tableActive
}

// BreakerOptions configures the circuit breaker guarding the database.
type BreakerOptions struct {
	// FailureThreshold consecutive infrastructure failures open the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Interval resets failure counts while closed. Zero never resets.
	Interval time.Duration
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
}

// Options configures Open.
type Options struct {
	Driver string
	// DSN is a lib/pq connection string for postgres, or a file path or
	// file: URI for sqlite.
	DSN          string
	MaxOpenConns int
	Breaker      BreakerOptions
	Logger       logpkg.Logger
	// OnBreakerStateChange observes breaker transitions. Optional.
	OnBreakerStateChange func(name string, from, to gobreaker.State)
}

// Store implements eventstore.Backend on database/sql.
type Store struct {
	db      *sql.DB
	d       dialect
	cb      *gobreaker.CircuitBreaker[any]
	logger  logpkg.Logger
	scanMax int
}

var _ eventstore.Backend = (*Store)(nil)

// Open connects, applies the schema and returns a Store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("sqlstore: DSN is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	logger = logger.With(logpkg.Component("sqlstore"), logpkg.Str("driver", d.name))

	dsn := opts.DSN
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
		if d.name == DriverSQLite {
			maxConns = 1
		}
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	s := &Store{db: db, d: d, logger: logger, scanMax: 10000}
	s.cb = newBreaker("sqlstore-"+d.name, opts.Breaker, logger, opts.OnBreakerStateChange)

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN turns a path into a file: URI carrying the pragmas every pooled
// connection needs, including immediate transactions.
func sqliteDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") && strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(FULL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(ON)")
	params.Set("_txlock", "immediate")
	base := dsn
	sep := "?"
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", classify(err))
		}
	}
	return nil
}

// DB exposes the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the dialect name.
func (s *Store) Driver() string { return s.d.name }

// BreakerState reports the circuit breaker state.
func (s *Store) BreakerState() gobreaker.State { return s.cb.State() }

// Health pings the database through the breaker.
func (s *Store) Health(ctx context.Context) error {
	return s.guard("health", func() error { return s.db.PingContext(ctx) })
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) q(query string) string { return s.d.rebind(query) }
