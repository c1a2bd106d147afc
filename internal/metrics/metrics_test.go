package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/evstore/internal/eventstore"
)

func TestObserveCommit(t *testing.T) {
	m := New()
	res := eventstore.CommitResult{
		Appended: make([]eventstore.Event, 3),
		Archived: []eventstore.StreamID{{TenantID: "t", Key: "s"}},
	}
	m.ObserveCommit(time.Millisecond, res, nil)
	m.ObserveCommit(time.Millisecond, eventstore.CommitResult{}, &eventstore.ConflictError{Expected: 1, Actual: 2})

	require.Equal(t, 1.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues(ResultOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues(ResultConflict)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.conflictsTotal))
	require.Equal(t, 3.0, testutil.ToFloat64(m.eventsAppended))
	require.Equal(t, 1.0, testutil.ToFloat64(m.streamsArchived))
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{fmt.Errorf("x: %w", eventstore.ErrConcurrencyConflict), ResultConflict},
		{eventstore.ErrStreamArchived, ResultArchived},
		{eventstore.ErrNotFound, ResultNotFound},
		{eventstore.Unavailable("commit", io.ErrUnexpectedEOF), ResultUnavailable},
		{eventstore.PartialCommit(eventstore.StreamID{TenantID: "t", Key: "k"}, "stray"), ResultPartial},
		{io.EOF, ResultError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Result(tt.err), "err=%v", tt.err)
	}
}

func TestPartialCommitAndBreaker(t *testing.T) {
	m := New()
	m.ObservePartialCommit(eventstore.StreamID{TenantID: "acme", Key: "k"})
	m.BreakerStateChanged("sqlstore", gobreaker.StateClosed, gobreaker.StateOpen)

	require.Equal(t, 1.0, testutil.ToFloat64(m.partialCommits.WithLabelValues("acme")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("sqlstore")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveBatchCommit(time.Millisecond, 4, 512)
	m.ObserveRead(time.Microsecond, 10)
	m.ObserveCommit(time.Millisecond, eventstore.CommitResult{}, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "evstore_commits_total")
	require.Contains(t, body, "evstore_storage_batch_commit_duration_seconds")
	require.Contains(t, body, "go_goroutines")
}
