package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records decision cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records decision cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// LookupOutcome captures the result of a cache lookup.
type LookupOutcome string

const (
	// LookupHit indicates the lookup reused a cached decision.
	LookupHit LookupOutcome = "hit"
	// LookupMiss indicates no cached decision was present.
	LookupMiss LookupOutcome = "miss"
	// LookupExpired indicates the cached decision had outlived its TTL.
	LookupExpired LookupOutcome = "expired"
	// LookupStale indicates the match state moved on since the decision was cached.
	LookupStale LookupOutcome = "stale"
	// LookupError indicates the lookup failed due to an error.
	LookupError LookupOutcome = "error"
)

// StoreOutcome captures the result of a cache store attempt.
type StoreOutcome string

const (
	// StoreStored indicates the decision was persisted.
	StoreStored StoreOutcome = "stored"
	// StoreSkipped indicates caching policy excluded the decision.
	StoreSkipped StoreOutcome = "skipped"
	// StoreError indicates the store operation failed.
	StoreError StoreOutcome = "error"
)

// EvictionCause labels why entries left the store ahead of a lookup.
type EvictionCause string

const (
	// EvictCapacity marks batch eviction triggered by the entry bound.
	EvictCapacity EvictionCause = "capacity"
	// EvictSweep marks removals by the periodic expiry sweep.
	EvictSweep EvictionCause = "sweep"
	// EvictResize marks removals caused by a shrunken entry bound.
	EvictResize EvictionCause = "resize"
)

// Recorder publishes Prometheus metrics for decision cache activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	lookups *prometheus.CounterVec
	stores  *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	produceLatency   *prometheus.HistogramVec

	entries       prometheus.Gauge
	evictions     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tacticache",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Decision cache lookups by acting role and outcome.",
	}, []string{"role", "result"})

	stores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tacticache",
		Subsystem: "cache",
		Name:      "stores_total",
		Help:      "Decision cache store attempts by acting role and outcome.",
	}, []string{"role", "status"})

	operationLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tacticache",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for decision cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	produceLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tacticache",
		Subsystem: "produce",
		Name:      "duration_seconds",
		Help:      "Latency distribution for decisions computed on a cache miss.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"role"})

	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tacticache",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Current number of cached decisions.",
	})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tacticache",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries removed by capacity pressure, sweeps, or resizes.",
	}, []string{"cause"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tacticache",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Entries removed by explicit invalidation, labeled by game event.",
	}, []string{"event"})

	reg.MustRegister(lookups, stores, operationLatency, produceLatency, entries, evictions, invalidations)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		lookups:          lookups,
		stores:           stores,
		operationLatency: operationLatency,
		produceLatency:   produceLatency,
		entries:          entries,
		evictions:        evictions,
		invalidations:    invalidations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLookup records the result and latency of a cache lookup.
func (r *Recorder) ObserveLookup(role string, result LookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(LookupMiss)
	}
	r.lookups.WithLabelValues(normalizeLabel(role), resultLabel).Inc()
	r.operationLatency.WithLabelValues(string(CacheOperationLookup), resultLabel).Observe(duration.Seconds())
}

// ObserveStore records the result and latency of a cache store attempt.
func (r *Recorder) ObserveStore(role string, status StoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	statusLabel := string(status)
	if statusLabel == "" {
		statusLabel = string(StoreError)
	}
	r.stores.WithLabelValues(normalizeLabel(role), statusLabel).Inc()
	r.operationLatency.WithLabelValues(string(CacheOperationStore), statusLabel).Observe(duration.Seconds())
}

// ObserveProduce records how long the decision producer ran on a miss.
func (r *Recorder) ObserveProduce(role string, duration time.Duration) {
	if r == nil {
		return
	}
	r.produceLatency.WithLabelValues(normalizeLabel(role)).Observe(duration.Seconds())
}

// SetEntries publishes the current entry count.
func (r *Recorder) SetEntries(count int64) {
	if r == nil {
		return
	}
	r.entries.Set(float64(count))
}

// AddEvictions counts entries removed outside of explicit invalidation.
func (r *Recorder) AddEvictions(cause EvictionCause, count int) {
	if r == nil || count <= 0 {
		return
	}
	causeLabel := string(cause)
	if causeLabel == "" {
		causeLabel = string(EvictCapacity)
	}
	r.evictions.WithLabelValues(causeLabel).Add(float64(count))
}

// AddInvalidations counts entries removed in response to a game event.
func (r *Recorder) AddInvalidations(event string, count int) {
	if r == nil || count < 0 {
		return
	}
	r.invalidations.WithLabelValues(normalizeLabel(event)).Add(float64(count))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
