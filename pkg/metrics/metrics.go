// Package metrics exposes Prometheus collectors for the news service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry so tests can
// create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	tierHits     *prometheus.CounterVec
	originFaults prometheus.Counter
	busyRejects  prometheus.Counter
	translations prometheus.Counter
}

// New creates the collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsfilter_http_requests_total",
			Help: "Total HTTP requests, labeled by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsfilter_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies by route.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 45},
		}, []string{"route"}),
		tierHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsfilter_lookup_total",
			Help: "Symbol lookups by serving tier: hot, warm, origin or miss.",
		}, []string{"tier"}),
		originFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsfilter_origin_faults_total",
			Help: "Origin requests that failed outright.",
		}),
		busyRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsfilter_busy_rejections_total",
			Help: "Requests rejected because the worker pool timed out.",
		}),
		translations: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsfilter_translations_total",
			Help: "Translation write-backs queued.",
		}),
	}
}

// Handler serves the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterQueueDepth adds a gauge backed by the pool's live queue length
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "newsfilter_worker_queue_depth",
		Help: "Tasks currently waiting in the worker queue.",
	}, func() float64 { return float64(depth()) }))
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// TierHit records which tier served a lookup
func (m *Metrics) TierHit(tier string) { m.tierHits.WithLabelValues(tier).Inc() }

// OriginFault records a failed origin request
func (m *Metrics) OriginFault() { m.originFaults.Inc() }

// BusyRejection records a pool timeout rejection
func (m *Metrics) BusyRejection() { m.busyRejects.Inc() }

// TranslationQueued records a translation write-back
func (m *Metrics) TranslationQueued() { m.translations.Inc() }
