package eventstore

import (
	"context"
	"errors"
	"strings"
	"time"

	logpkg "github.com/rzbill/evstore/pkg/log"
)

// TenantValidator decides whether a tenant id may be used.
type TenantValidator interface {
	Validate(tenantID string) error
}

// CommitObserver is notified after a batch has been durably committed.
type CommitObserver interface {
	Committed(ctx context.Context, res CommitResult)
}

// Instrumentation receives commit and integrity observations.
type Instrumentation interface {
	ObserveCommit(elapsed time.Duration, res CommitResult, err error)
	ObservePartialCommit(id StreamID)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logpkg.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTenantValidator replaces the default non-empty tenant check.
func WithTenantValidator(v TenantValidator) Option {
	return func(s *Store) {
		if v != nil {
			s.tenants = v
		}
	}
}

// WithObserver registers a post-commit observer.
func WithObserver(o CommitObserver) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithInstrumentation sets the metrics sink.
func WithInstrumentation(i Instrumentation) Option {
	return func(s *Store) {
		if i != nil {
			s.instr = i
		}
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the entry point to the event store.
type Store struct {
	backend   Backend
	logger    logpkg.Logger
	tenants   TenantValidator
	observers []CommitObserver
	instr     Instrumentation
	now       func() time.Time
}

// New builds a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  logpkg.NewNopLogger(),
		tenants: requireTenant{},
		instr:   noopInstrumentation{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend exposes the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Health checks that the backend is reachable.
func (s *Store) Health(ctx context.Context) error { return s.backend.Health(ctx) }

// LightweightSession opens a new unit of work.
func (s *Store) LightweightSession() *Session {
	return &Session{store: s}
}

func (s *Store) validateTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrTenantRequired
	}
	return s.tenants.Validate(tenantID)
}

func (s *Store) commit(ctx context.Context, ops []Operation) (CommitResult, error) {
	if len(ops) == 0 {
		return CommitResult{CommittedAt: s.now()}, nil
	}
	b := Batch{Ops: ops, At: s.now().UTC().Truncate(time.Microsecond)}
	start := time.Now()
	res, err := s.backend.Commit(ctx, b)
	s.instr.ObserveCommit(time.Since(start), res, err)
	if err != nil {
		lvl := s.logger.Warn
		if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrPartialCommit) {
			lvl = s.logger.Error
		}
		lvl("commit failed", logpkg.Int("ops", len(ops)), logpkg.Err(err))
		return CommitResult{}, err
	}
	s.logger.Debug("commit applied",
		logpkg.Int("ops", len(ops)),
		logpkg.Int("streams", len(res.Streams)),
		logpkg.Int("appended", len(res.Appended)),
		logpkg.Int("archived", len(res.Archived)),
	)
	for _, o := range s.observers {
		o.Committed(ctx, res)
	}
	return res, nil
}

type requireTenant struct{}

func (requireTenant) Validate(tenantID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

type noopInstrumentation struct{}

func (noopInstrumentation) ObserveCommit(time.Duration, CommitResult, error) {}
func (noopInstrumentation) ObservePartialCommit(StreamID)                    {}
