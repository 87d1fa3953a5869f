package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the platform runtime
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Repository metrics
	QueryOperations *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryRetries    *prometheus.CounterVec

	// Graph cache metrics
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheRebuilds *prometheus.CounterVec

	// Conversation metrics
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	ToolCalls      *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Singleton avoids duplicate registration when containers are rebuilt in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	queryOperations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_operations_total",
			Help:      "Repository operations by backend, operation, and outcome",
		},
		[]string{"backend", "operation", "status"},
	)

	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repository_operation_duration_seconds",
			Help:      "Repository operation duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	queryRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_retries_total",
			Help:      "Retry attempts against remote backends",
		},
		[]string{"backend"},
	)

	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_cache_hits_total",
			Help:      "Graph cache hits by graph kind",
		},
		[]string{"kind"},
	)

	cacheMisses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_cache_misses_total",
			Help:      "Graph cache misses by graph kind",
		},
		[]string{"kind"},
	)

	cacheRebuilds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_cache_rebuilds_total",
			Help:      "Graph rebuilds by graph kind and trigger",
		},
		[]string{"kind", "trigger"},
	)

	turnsStarted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_turns_started_total",
			Help:      "Conversation turns accepted by the orchestrator",
		},
	)

	turnsCompleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_turns_completed_total",
			Help:      "Conversation turns that produced an assistant message",
		},
	)

	toolCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_tool_calls_total",
			Help:      "Tool invocations by tool name and outcome",
		},
		[]string{"tool", "status"},
	)

	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_sessions_active",
			Help:      "Conversation sessions currently retained",
		},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		queryOperations,
		queryDuration,
		queryRetries,
		cacheHits,
		cacheMisses,
		cacheRebuilds,
		turnsStarted,
		turnsCompleted,
		toolCalls,
		activeSessions,
	)

	globalCollector = &Collector{
		registry:        registry,
		HTTPRequests:    httpRequests,
		HTTPDuration:    httpDuration,
		QueryOperations: queryOperations,
		QueryDuration:   queryDuration,
		QueryRetries:    queryRetries,
		CacheHits:       cacheHits,
		CacheMisses:     cacheMisses,
		CacheRebuilds:   cacheRebuilds,
		TurnsStarted:    turnsStarted,
		TurnsCompleted:  turnsCompleted,
		ToolCalls:       toolCalls,
		ActiveSessions:  activeSessions,
	}
	return globalCollector
}

// Handler exposes the collector's registry for the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveQuery records one repository operation
func (c *Collector) ObserveQuery(backend, operation, status string, elapsed time.Duration) {
	c.QueryOperations.WithLabelValues(backend, operation, status).Inc()
	c.QueryDuration.WithLabelValues(backend, operation).Observe(elapsed.Seconds())
}
