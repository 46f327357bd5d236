// Package observability holds the Prometheus collectors shared by the service.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamLatencySeconds     *prometheus.HistogramVec
	upstreamOutcomes           *prometheus.CounterVec
	queryExecutions            *prometheus.CounterVec
	activeSessions             prometheus.Gauge
	storeOps                   *prometheus.CounterVec
	storeOpDurationSeconds     *prometheus.HistogramVec
	catalogInvalidations       *prometheus.CounterVec
}

var current atomic.Pointer[metricSet]

func init() {
	Init(prometheus.DefaultRegisterer)
}

// Init (re)binds all collectors to reg. A nil reg keeps collectors
// unregistered, which silences metrics.
func Init(reg prometheus.Registerer) {
	c := &metricSet{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		upstreamLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_latency_seconds",
				Help:    "Latency of upstream calls in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"upstream"},
		),
		upstreamOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_requests_total",
				Help: "Upstream calls by outcome (ok, status, transport, malformed).",
			},
			[]string{"upstream", "outcome"},
		),
		queryExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "map_query_executions_total",
				Help: "Map query executions by outcome.",
			},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "explorer_active_sessions",
				Help: "Sessions currently held in the registry.",
			},
		),
		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_op_total",
				Help: "Snapshot store operations by result.",
			},
			[]string{"op", "result"},
		),
		storeOpDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redis_operation_duration_seconds",
				Help:    "Duration of Redis operations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
		catalogInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_invalidations_total",
				Help: "Dataset update events handled by the catalog sync consumer.",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		c.httpRequestsTotal = register(reg, c.httpRequestsTotal)
		c.httpRequestDurationSeconds = register(reg, c.httpRequestDurationSeconds)
		c.upstreamLatencySeconds = register(reg, c.upstreamLatencySeconds)
		c.upstreamOutcomes = register(reg, c.upstreamOutcomes)
		c.queryExecutions = register(reg, c.queryExecutions)
		c.activeSessions = register(reg, c.activeSessions)
		c.storeOps = register(reg, c.storeOps)
		c.storeOpDurationSeconds = register(reg, c.storeOpDurationSeconds)
		c.catalogInvalidations = register(reg, c.catalogInvalidations)
	}
	current.Store(c)
}

// returns the collector already registered under the same descriptor, if any
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := current.Load()
	st := strconv.Itoa(status)
	c.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	current.Load().upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamOutcome(upstream, outcome string) {
	current.Load().upstreamOutcomes.WithLabelValues(upstream, outcome).Inc()
}

func IncQueryExecution(outcome string) {
	current.Load().queryExecutions.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(n int) {
	current.Load().activeSessions.Set(float64(n))
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	c := current.Load()
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.storeOps.WithLabelValues(op, result).Inc()
	c.storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

// IncCatalogInvalidation counts one handled update event
// (result: invalidated, skipped, decode_error, store_error).
func IncCatalogInvalidation(result string) {
	current.Load().catalogInvalidations.WithLabelValues(result).Inc()
}
