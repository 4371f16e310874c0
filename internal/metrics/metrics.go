package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planetcast"

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records cache reads.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records cache writes.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a live entry was returned.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates the entry was absent or expired.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the backend failed.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache write.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	CacheStoreError  CacheStoreOutcome = "error"
)

// AttemptOutcome classifies one call to an upstream API.
type AttemptOutcome string

const (
	AttemptSuccess  AttemptOutcome = "success"
	AttemptNotFound AttemptOutcome = "not_found"
	AttemptError    AttemptOutcome = "error"
)

// HistoryOperation identifies the history store method being instrumented.
type HistoryOperation string

const (
	HistoryAppend       HistoryOperation = "append"
	HistoryAppendOpaque HistoryOperation = "append_opaque"
	HistoryQuery        HistoryOperation = "query"
)

// Recorder publishes Prometheus metrics for request handling and data access.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	upstreamAttempts *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	historyOperations *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served.",
	}, []string{"route", "method", "status_code"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for served HTTP requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "method"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Lookup cache operations by entity kind.",
	}, []string{"kind", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for lookup cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"kind", "operation", "result"})

	upstreamAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "attempts_total",
		Help:      "Calls made to upstream APIs, including retries.",
	}, []string{"api", "outcome"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "attempt_duration_seconds",
		Help:      "Latency distribution for upstream API calls.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"api", "outcome"})

	historyOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "operations_total",
		Help:      "History store operations.",
	}, []string{"operation", "result"})

	reg.MustRegister(httpRequests, httpLatency, cacheOperations, cacheLatency, upstreamAttempts, upstreamLatency, historyOperations)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		httpRequests:      httpRequests,
		httpLatency:       httpLatency,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
		upstreamAttempts:  upstreamAttempts,
		upstreamLatency:   upstreamLatency,
		historyOperations: historyOperations,
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

// ObserveRequest records a served HTTP request. route is the matched pattern,
// not the raw path.
func (r *Recorder) ObserveRequest(route, method string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	methodLabel := normalizeLabel(method)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.httpRequests.WithLabelValues(routeLabel, methodLabel, statusLabel).Inc()
	r.httpLatency.WithLabelValues(routeLabel, methodLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(kind string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(kind), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache write.
func (r *Recorder) ObserveCacheStore(kind string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(kind), CacheOperationStore, resultLabel, duration)
}

func (r *Recorder) observeCache(kind string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(kind, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(kind, opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveUpstreamAttempt records one call to an upstream API.
func (r *Recorder) ObserveUpstreamAttempt(api string, outcome AttemptOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	apiLabel := normalizeLabel(api)
	outcomeLabel := normalizeLabel(string(outcome))
	r.upstreamAttempts.WithLabelValues(apiLabel, outcomeLabel).Inc()
	r.upstreamLatency.WithLabelValues(apiLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveHistory records a history store operation and whether it failed.
func (r *Recorder) ObserveHistory(operation HistoryOperation, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.historyOperations.WithLabelValues(normalizeLabel(string(operation)), result).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
