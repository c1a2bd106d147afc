package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/rzbill/evstore/internal/eventstore"
)

const namespace = "evstore"

// Commit result labels.
const (
	ResultOK          = "ok"
	ResultConflict    = "conflict"
	ResultArchived    = "archived"
	ResultNotFound    = "not_found"
	ResultUnavailable = "unavailable"
	ResultPartial     = "partial_commit"
	ResultError       = "error"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	commitsTotal      *prometheus.CounterVec
	commitLatency     prometheus.Histogram
	eventsAppended    prometheus.Counter
	streamsArchived   prometheus.Counter
	conflictsTotal    prometheus.Counter
	partialCommits    *prometheus.CounterVec
	storageReadLat    prometheus.Histogram
	storageBatchLat   prometheus.Histogram
	storageBatchBytes prometheus.Histogram
	storageBatchOps   prometheus.Histogram
	breakerState      *prometheus.GaugeVec
}

// New registers evstore collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Session commits by result",
		}, []string{"result"}),
		commitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Session commit latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended",
		}),
		streamsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_archived_total",
			Help:      "Total number of streams moved to the archived partition",
		}),
		conflictsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of commits rejected by an expected-version check",
		}),
		partialCommits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_commits_total",
			Help:      "Integrity violations detected, by tenant",
		}, []string{"tenant"}),
		storageReadLat: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "read_duration_seconds",
			Help:      "Pebble point read latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		storageBatchLat: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "batch_commit_duration_seconds",
			Help:      "Pebble batch commit latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		storageBatchBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "batch_bytes",
			Help:      "Pebble batch size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		storageBatchOps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "batch_ops",
			Help:      "Pebble batch operation count",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "breaker_state",
			Help:      "SQL circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCommit records one session commit.
func (m *Metrics) ObserveCommit(elapsed time.Duration, res eventstore.CommitResult, err error) {
	result := Result(err)
	m.commitsTotal.WithLabelValues(result).Inc()
	m.commitLatency.Observe(elapsed.Seconds())
	if result == ResultConflict {
		m.conflictsTotal.Inc()
	}
	if err != nil {
		return
	}
	m.eventsAppended.Add(float64(len(res.Appended)))
	m.streamsArchived.Add(float64(len(res.Archived)))
}

// ObservePartialCommit counts an integrity violation.
func (m *Metrics) ObservePartialCommit(id eventstore.StreamID) {
	m.partialCommits.WithLabelValues(id.TenantID).Inc()
}

func (m *Metrics) ObserveRead(elapsed time.Duration, _ int) {
	m.storageReadLat.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storageBatchLat.Observe(elapsed.Seconds())
	m.storageBatchOps.Observe(float64(numOps))
	m.storageBatchBytes.Observe(float64(bytes))
}

// BreakerStateChanged matches sqlstore.Options.OnBreakerStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// Result maps a commit error to its metric label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return ResultConflict
	case errors.Is(err, eventstore.ErrStreamArchived):
		return ResultArchived
	case errors.Is(err, eventstore.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, eventstore.ErrStorageUnavailable):
		return ResultUnavailable
	case errors.Is(err, eventstore.ErrPartialCommit):
		return ResultPartial
	default:
		return ResultError
	}
}
