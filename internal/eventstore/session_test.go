package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingObserver struct{ results []CommitResult }

func (r *recordingObserver) Committed(_ context.Context, res CommitResult) {
	r.results = append(r.results, res)
}

type denyTenant struct{ denied string }

func (d denyTenant) Validate(tenantID string) error {
	if tenantID == d.denied {
		return ErrTenantNotAllowed
	}
	return nil
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *memBackend) {
	t.Helper()
	be := newMemBackend()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})}, opts...)
	return New(be, opts...), be
}

func TestSessionAppendArchiveScenario(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	store, _ := newTestStore(t, WithObserver(obs))

	sess := store.LightweightSession()
	acme := sess.ForTenant("acme")
	require.NoError(t, acme.AppendExpected("order-1", NoStream,
		NewEvent{Type: "Created", Data: []byte(`{"total":10}`)},
		NewEvent{Type: "Paid"},
	))
	require.Equal(t, 1, sess.Pending())
	res, err := sess.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, res.Appended, 2)
	require.Zero(t, sess.Pending())

	st, err := acme.FetchStreamState(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, int64(2), st.Version)
	require.False(t, st.IsArchived)

	events, err := acme.FetchStream(ctx, "order-1", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.False(t, events[0].Archived)

	require.NoError(t, acme.ArchiveExpected("order-1", 2))
	_, err = sess.SaveChanges(ctx)
	require.NoError(t, err)

	st, err = store.FetchStreamState(ctx, "acme", "order-1")
	require.NoError(t, err)
	require.True(t, st.IsArchived)
	require.NotNil(t, st.ArchivedAt)

	events, err = store.FetchStream(ctx, "acme", "order-1", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, events[1].Archived)

	active, err := store.ScanActive(ctx, "acme", ScanOptions{})
	require.NoError(t, err)
	require.Empty(t, active.Events)
	archived, err := store.ScanArchived(ctx, "acme", ScanOptions{})
	require.NoError(t, err)
	require.Len(t, archived.Events, 2)

	require.Len(t, obs.results, 2)
	require.NoError(t, store.VerifyStream(ctx, "acme", "order-1"))
}

func TestSessionClearedAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	store, be := newTestStore(t)
	sess := store.LightweightSession()
	acme := sess.ForTenant("acme")

	require.NoError(t, acme.AppendExpected("order-1", 5, NewEvent{Type: "X"}))
	_, err := sess.Commit(ctx)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.Zero(t, sess.Pending())
	require.Zero(t, be.commits)

	st, err := acme.FetchStreamState(ctx, "order-1")
	require.NoError(t, err)
	require.Nil(t, st)
}

func TestSessionDiscard(t *testing.T) {
	store, be := newTestStore(t)
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("order-1", NewEvent{Type: "X"}))
	sess.Discard()
	require.Zero(t, sess.Pending())

	_, err := sess.Commit(context.Background())
	require.NoError(t, err)
	require.Zero(t, be.commits)
}

func TestSessionValidation(t *testing.T) {
	store, _ := newTestStore(t, WithTenantValidator(denyTenant{denied: "blocked"}))
	sess := store.LightweightSession()

	require.ErrorIs(t, sess.ForTenant("").Append("k", NewEvent{Type: "X"}), ErrTenantRequired)
	require.ErrorIs(t, sess.ForTenant("  ").Archive("k"), ErrTenantRequired)
	require.ErrorIs(t, sess.ForTenant("blocked").Append("k", NewEvent{Type: "X"}), ErrTenantNotAllowed)
	require.ErrorIs(t, sess.ForTenant("acme").Append("", NewEvent{Type: "X"}), ErrStreamKeyRequired)
	require.Error(t, sess.ForTenant("acme").Append("k", NewEvent{}))
	require.Error(t, sess.ForTenant("acme").AppendExpected("k", -2, NewEvent{Type: "X"}))
	require.Zero(t, sess.Pending())

	_, err := store.FetchStream(context.Background(), "blocked", "k", ReadOptions{})
	require.ErrorIs(t, err, ErrTenantNotAllowed)
}

func TestTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("order-1", NewEvent{Type: "A"}))
	require.NoError(t, sess.ForTenant("globex").Append("order-1", NewEvent{Type: "G"}, NewEvent{Type: "G"}))
	_, err := sess.Commit(ctx)
	require.NoError(t, err)

	a, err := store.FetchStreamState(ctx, "acme", "order-1")
	require.NoError(t, err)
	g, err := store.FetchStreamState(ctx, "globex", "order-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Version)
	require.Equal(t, int64(2), g.Version)

	page, err := store.ScanActive(ctx, "acme", ScanOptions{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	require.Equal(t, "A", page.Events[0].Type)

	tenants, err := store.Tenants(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"acme", "globex"}, tenants)
}

func TestCommitStorageFailure(t *testing.T) {
	store, be := newTestStore(t)
	be.fail = Unavailable("commit", context.DeadlineExceeded)
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("order-1", NewEvent{Type: "X"}))
	_, err := sess.Commit(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

type partialInstr struct {
	noopInstrumentation
	partial []StreamID
}

func (p *partialInstr) ObservePartialCommit(id StreamID) { p.partial = append(p.partial, id) }

func TestVerifyStreamReportsPartialCommit(t *testing.T) {
	ctx := context.Background()
	instr := &partialInstr{}
	store, be := newTestStore(t, WithInstrumentation(instr))
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("order-1", NewEvent{Type: "X"}))
	_, err := sess.Commit(ctx)
	require.NoError(t, err)

	id := StreamID{TenantID: "acme", Key: "order-1"}
	be.events[PartitionArchived][id] = []Event{{Sequence: 9, Type: "stray"}}
	err = store.VerifyStream(ctx, "acme", "order-1")
	require.ErrorIs(t, err, ErrPartialCommit)
	require.Equal(t, []StreamID{id}, instr.partial)
}
