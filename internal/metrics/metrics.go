// internal/metrics/metrics.go

// Package metrics exposes prometheus collectors for the marketplace. All
// methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	batchGroups    *prometheus.CounterVec
	batchAttempts  prometheus.Histogram
	receiptPolls   *prometheus.CounterVec
	searchSessions prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datamarket_transaction_transitions_total",
			Help: "Total number of ledger state transitions",
		}, []string{"from", "to"}),
		batchGroups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datamarket_batch_groups_total",
			Help: "Total number of seller groups processed by batch purchases",
		}, []string{"status"}),
		batchAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "datamarket_batch_group_attempts",
			Help:    "Payment call attempts per seller group",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		receiptPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datamarket_receipt_polls_total",
			Help: "Total number of receipt lookups by outcome",
		}, []string{"outcome"}),
		searchSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "datamarket_live_search_sessions",
			Help: "Open live search sessions",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datamarket_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datamarket_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveBatchGroup(status string, attempts int) {
	if m == nil {
		return
	}
	m.batchGroups.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.batchAttempts.Observe(float64(attempts))
	}
}

func (m *Metrics) ObserveReceiptPoll(outcome string) {
	if m == nil {
		return
	}
	m.receiptPolls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SearchSessionOpened() {
	if m == nil {
		return
	}
	m.searchSessions.Inc()
}

func (m *Metrics) SearchSessionClosed() {
	if m == nil {
		return
	}
	m.searchSessions.Dec()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
