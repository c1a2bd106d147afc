// Package storetest is a conformance suite for eventstore.Backend
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/evstore/internal/eventstore"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) eventstore.Backend

// Run executes every conformance test against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, *eventstore.Store)
	}{
		{"Scenario", testScenario},
		{"VersionEqualsAppendCount", testVersionEqualsAppendCount},
		{"ReArchiveIsNoop", testReArchiveIsNoop},
		{"ArchiveMissingStreamWritesNothing", testArchiveMissingStream},
		{"AppendToArchivedStream", testAppendToArchived},
		{"ConcurrentStaleAppends", testConcurrentStaleAppends},
		{"ScanExcludesArchived", testScanExcludesArchived},
		{"ScanPaging", testScanPaging},
		{"TenantIsolation", testTenantIsolation},
		{"CreateAndArchiveInOneSession", testCreateAndArchive},
		{"MetadataRoundTrip", testMetadata},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			be := newBackend(t)
			t.Cleanup(func() { _ = be.Close() })
			tc.fn(t, eventstore.New(be))
		})
	}
}

func value(v int) eventstore.NewEvent {
	return eventstore.NewEvent{Type: "Value", Data: []byte(fmt.Sprintf(`{"v":%d}`, v))}
}

func commit(t *testing.T, sess *eventstore.Session) eventstore.CommitResult {
	t.Helper()
	res, err := sess.Commit(context.Background())
	require.NoError(t, err)
	return res
}

func testScenario(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	tenant := sess.ForTenant("test-tenant")
	require.NoError(t, tenant.Append("test-stream", value(1), value(2)))
	commit(t, sess)

	require.NoError(t, tenant.Archive("test-stream"))
	commit(t, sess)

	st, err := tenant.FetchStreamState(ctx, "test-stream")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.True(t, st.IsArchived)
	require.Equal(t, "test-stream", st.Key)
	require.Equal(t, int64(2), st.Version)

	events, err := tenant.FetchStream(ctx, "test-stream", eventstore.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.JSONEq(t, `{"v":1}`, string(events[0].Data))
	require.JSONEq(t, `{"v":2}`, string(events[1].Data))

	require.NoError(t, store.VerifyStream(ctx, "test-tenant", "test-stream"))
}

func testVersionEqualsAppendCount(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	for _, n := range []int{0, 1, 5} {
		key := fmt.Sprintf("s-%d", n)
		sess := store.LightweightSession()
		for i := 0; i < n; i++ {
			require.NoError(t, sess.ForTenant("acme").Append(key, value(i)))
		}
		commit(t, sess)

		st, err := store.FetchStreamState(ctx, "acme", key)
		require.NoError(t, err)
		events, err := store.FetchStream(ctx, "acme", key, eventstore.ReadOptions{})
		require.NoError(t, err)
		if n == 0 {
			require.Nil(t, st)
			require.Empty(t, events)
			continue
		}
		require.Equal(t, int64(n), st.Version)
		require.Len(t, events, n)
		for i, ev := range events {
			require.Equal(t, int64(i+1), ev.Sequence)
		}
	}
}

func testReArchiveIsNoop(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("s", value(1)))
	require.NoError(t, sess.ForTenant("acme").Archive("s"))
	commit(t, sess)
	first, err := store.FetchStreamState(ctx, "acme", "s")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, sess.ForTenant("acme").Archive("s"))
	res := commit(t, sess)
	require.Empty(t, res.Archived)

	second, err := store.FetchStreamState(ctx, "acme", "s")
	require.NoError(t, err)
	require.True(t, second.IsArchived)
	require.True(t, first.ArchivedAt.Equal(*second.ArchivedAt))
	require.Equal(t, first.Version, second.Version)
}

func testArchiveMissingStream(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("a", value(1)))
	require.NoError(t, sess.ForTenant("acme").Archive("missing"))
	_, err := sess.Commit(ctx)
	require.ErrorIs(t, err, eventstore.ErrNotFound)
	require.Zero(t, sess.Pending())

	st, err := store.FetchStreamState(ctx, "acme", "a")
	require.NoError(t, err)
	require.Nil(t, st)
	tenants, err := store.Tenants(ctx)
	require.NoError(t, err)
	require.Empty(t, tenants)
}

func testAppendToArchived(t *testing.T, store *eventstore.Store) {
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("s", value(1)))
	require.NoError(t, sess.ForTenant("acme").Archive("s"))
	require.NoError(t, sess.ForTenant("acme").Append("s", value(2)))
	_, err := sess.Commit(context.Background())
	require.ErrorIs(t, err, eventstore.ErrStreamArchived)
}

func testConcurrentStaleAppends(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("s", value(0)))
	commit(t, sess)

	const writers = 6
	errs := make([]error, writers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := store.LightweightSession()
			if errs[i] = s.ForTenant("acme").AppendExpected("s", 1, value(i)); errs[i] != nil {
				return
			}
			<-start
			_, errs[i] = s.Commit(ctx)
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	}
	require.Equal(t, 1, wins)
	st, err := store.FetchStreamState(ctx, "acme", "s")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Version)
}

func testScanExcludesArchived(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	acme := sess.ForTenant("acme")
	require.NoError(t, acme.Append("keep", value(1)))
	require.NoError(t, acme.Append("old", value(1), value(2)))
	commit(t, sess)
	require.NoError(t, acme.Archive("old"))
	commit(t, sess)

	active, err := store.ScanActive(ctx, "acme", eventstore.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, active.Events, 1)
	require.Equal(t, "keep", active.Events[0].StreamKey)

	archived, err := store.ScanArchived(ctx, "acme", eventstore.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, archived.Events, 2)
	for _, ev := range archived.Events {
		require.Equal(t, "old", ev.StreamKey)
		require.True(t, ev.Archived)
	}

	st, err := store.FetchStreamState(ctx, "acme", "old")
	require.NoError(t, err)
	require.True(t, st.IsArchived)
}

func testScanPaging(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, sess.ForTenant("acme").Append(key, value(1), value(2)))
	}
	commit(t, sess)

	var keys []string
	opts := eventstore.ScanOptions{Limit: 4}
	for {
		page, err := store.ScanActive(ctx, "acme", opts)
		require.NoError(t, err)
		for _, ev := range page.Events {
			keys = append(keys, fmt.Sprintf("%s%d", ev.StreamKey, ev.Sequence))
		}
		if page.Next == nil {
			break
		}
		opts.After = page.Next
	}
	require.Equal(t, []string{"a1", "a2", "b1", "b2", "c1", "c2"}, keys)

	filtered, err := store.ScanActive(ctx, "acme", eventstore.ScanOptions{Filter: `sequence == 2 && json.v == 2.0`})
	require.NoError(t, err)
	require.Len(t, filtered.Events, 3)
}

func testTenantIsolation(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").Append("s", value(1)))
	require.NoError(t, sess.ForTenant("acme-eu").Append("s", value(1), value(2)))
	commit(t, sess)
	require.NoError(t, sess.ForTenant("acme").Archive("s"))
	commit(t, sess)

	eu, err := store.FetchStreamState(ctx, "acme-eu", "s")
	require.NoError(t, err)
	require.False(t, eu.IsArchived)
	require.Equal(t, int64(2), eu.Version)

	page, err := store.ScanActive(ctx, "acme", eventstore.ScanOptions{})
	require.NoError(t, err)
	require.Empty(t, page.Events)
	page, err = store.ScanActive(ctx, "acme-eu", eventstore.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)

	tenants, err := store.Tenants(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"acme", "acme-eu"}, tenants)

	var keys []string
	require.NoError(t, store.Streams(ctx, "acme-eu", func(st eventstore.StreamState) error {
		keys = append(keys, st.Key)
		return nil
	}))
	require.Equal(t, []string{"s"}, keys)
}

func testCreateAndArchive(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	require.NoError(t, sess.ForTenant("acme").AppendExpected("s", eventstore.NoStream, value(1)))
	require.NoError(t, sess.ForTenant("acme").ArchiveExpected("s", 1))
	res := commit(t, sess)
	require.Len(t, res.Archived, 1)

	page, err := store.ScanArchived(ctx, "acme", eventstore.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	require.NoError(t, store.VerifyStream(ctx, "acme", "s"))
}

func testMetadata(t *testing.T, store *eventstore.Store) {
	ctx := context.Background()
	sess := store.LightweightSession()
	ev := eventstore.NewEvent{Type: "Tagged", Data: []byte(`{}`), Metadata: map[string]string{"source": "web"}}
	require.NoError(t, sess.ForTenant("acme").Append("s", ev))
	res := commit(t, sess)

	events, err := store.FetchStream(ctx, "acme", "s", eventstore.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "web", events[0].Metadata["source"])
	require.Equal(t, res.Appended[0].ID, events[0].ID)
	require.True(t, res.CommittedAt.Equal(events[0].Timestamp))
}
