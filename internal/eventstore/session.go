package eventstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session is a unit of work. Operations queued through ForTenant are applied
// atomically by Commit. The queue is cleared after Commit, whether it
// succeeded or not, and by Discard.
type Session struct {
	store *Store

	mu  sync.Mutex
	ops []Operation
}

// ForTenant scopes subsequent operations to tenantID. An empty or disallowed
// tenant makes every operation on the returned scope fail.
func (s *Session) ForTenant(tenantID string) *TenantSession {
	return &TenantSession{sess: s, tenant: tenantID, err: s.store.validateTenant(tenantID)}
}

// Pending returns the number of queued operations.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Discard drops every queued operation.
func (s *Session) Discard() {
	s.mu.Lock()
	s.ops = nil
	s.mu.Unlock()
}

// Commit applies every queued operation in one transaction. It may block on
// the backend's concurrency control; ctx bounds the wait.
func (s *Session) Commit(ctx context.Context) (CommitResult, error) {
	s.mu.Lock()
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()
	return s.store.commit(ctx, ops)
}

// SaveChanges is an alias for Commit.
func (s *Session) SaveChanges(ctx context.Context) (CommitResult, error) { return s.Commit(ctx) }

func (s *Session) enqueue(op Operation) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

// TenantSession queues operations for one tenant on a Session.
type TenantSession struct {
	sess   *Session
	tenant string
	err    error
}

// TenantID returns the scope's tenant.
func (t *TenantSession) TenantID() string { return t.tenant }

func (t *TenantSession) streamID(key string) (StreamID, error) {
	if t.err != nil {
		return StreamID{}, t.err
	}
	if strings.TrimSpace(key) == "" {
		return StreamID{}, ErrStreamKeyRequired
	}
	return StreamID{TenantID: t.tenant, Key: key}, nil
}

// Append queues events for key without a version check.
func (t *TenantSession) Append(key string, events ...NewEvent) error {
	return t.AppendExpected(key, AnyVersion, events...)
}

// AppendExpected queues events for key, requiring the stream to be at
// expected when the session commits.
func (t *TenantSession) AppendExpected(key string, expected ExpectedVersion, events ...NewEvent) error {
	id, err := t.streamID(key)
	if err != nil {
		return err
	}
	if expected < AnyVersion {
		return fmt.Errorf("invalid expected version %d", expected)
	}
	stamped := make([]Event, len(events))
	for i, e := range events {
		if e.Type == "" {
			return fmt.Errorf("event %d: type required", i)
		}
		stamped[i] = Event{ID: newEventID(), Type: e.Type, Data: e.Data, Metadata: e.Metadata}
	}
	t.sess.enqueue(Operation{Kind: OpAppend, Stream: id, Expected: expected, Events: stamped})
	return nil
}

// Archive queues the archival of key. Archiving an archived stream is a no-op.
func (t *TenantSession) Archive(key string) error {
	return t.ArchiveExpected(key, AnyVersion)
}

// ArchiveExpected queues the archival of key, requiring the stream to be at
// expected when the session commits.
func (t *TenantSession) ArchiveExpected(key string, expected ExpectedVersion) error {
	id, err := t.streamID(key)
	if err != nil {
		return err
	}
	t.sess.enqueue(Operation{Kind: OpArchive, Stream: id, Expected: expected})
	return nil
}

// FetchStreamState reads the committed state of key. It does not see
// operations still queued on the session.
func (t *TenantSession) FetchStreamState(ctx context.Context, key string) (*StreamState, error) {
	if _, err := t.streamID(key); err != nil {
		return nil, err
	}
	return t.sess.store.FetchStreamState(ctx, t.tenant, key)
}

// FetchStream reads the committed events of key.
func (t *TenantSession) FetchStream(ctx context.Context, key string, opts ReadOptions) ([]Event, error) {
	if _, err := t.streamID(key); err != nil {
		return nil, err
	}
	return t.sess.store.FetchStream(ctx, t.tenant, key, opts)
}

func newEventID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}
