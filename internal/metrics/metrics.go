// Package metrics exposes Prometheus metrics of the atlas. All methods are nil-safe.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nodeatlas"

// Metrics holds the registry and collectors of one atlas instance.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	nodeChanges         *prometheus.CounterVec
	nodes               *prometheus.GaugeVec
	childMapFetches     *prometheus.CounterVec
	childMapDuration    prometheus.Histogram
	probes              *prometheus.CounterVec
}

// New creates a fresh registry with all atlas metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		nodeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_changes_total",
			Help:      "Node registrations, updates and deletions by result",
		}, []string{"op", "result"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Nodes in the current snapshot",
		}, []string{"kind"}),
		childMapFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_map_fetches_total",
			Help:      "Child map fetches by result",
		}, []string{"result"}),
		childMapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_refresh_duration_seconds",
			Help:      "Duration of a full child map cache refresh",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Node reachability probes by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.nodeChanges,
		m.nodes,
		m.childMapFetches,
		m.childMapDuration,
		m.probes,
	)

	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncNodeChange counts a node operation ("add", "update", "delete") with its result.
func (m *Metrics) IncNodeChange(op, result string) {
	if m == nil {
		return
	}
	m.nodeChanges.WithLabelValues(op, result).Inc()
}

// SetNodes records the size of the snapshot.
func (m *Metrics) SetNodes(local, cached int) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues("local").Set(float64(local))
	m.nodes.WithLabelValues("cached").Set(float64(cached))
}

// IncChildMapFetch counts a child map fetch.
func (m *Metrics) IncChildMapFetch(ok bool) {
	if m == nil {
		return
	}
	m.childMapFetches.WithLabelValues(result(ok)).Inc()
}

// ObserveCacheRefresh records the duration of a cache refresh.
func (m *Metrics) ObserveCacheRefresh(d time.Duration) {
	if m == nil {
		return
	}
	m.childMapDuration.Observe(d.Seconds())
}

// IncProbe counts a reachability probe.
func (m *Metrics) IncProbe(ok bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result(ok)).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
