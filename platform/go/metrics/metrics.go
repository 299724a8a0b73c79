// Package metrics exposes Prometheus counters for the gateway's hot
// paths: inbound requests, throttled requests, rejected credentials and
// webhook delivery outcomes.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clearops_gateway"

// Metrics bundles every registered collector.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RateLimitHits *prometheus.CounterVec
	AuthFailures  prometheus.Counter

	WebhookDeliveries *prometheus.CounterVec
	WebhookRetries    prometheus.Counter
	PendingRetries    prometheus.Gauge
}

// NewMetrics registers all gateway collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "resource", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "resource"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_hits_total",
				Help:      "Total number of requests rejected for exceeding the per-minute quota",
			},
			[]string{"tenant"},
		),
		AuthFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected API keys",
			},
		),
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts by outcome",
			},
			[]string{"outcome"}, // outcome: delivered, retry, failed, blocked
		),
		WebhookRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_retries_total",
				Help:      "Total number of webhook deliveries re-enqueued by the retry worker",
			},
		),
		PendingRetries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "webhook_pending_retries",
				Help:      "Deliveries claimed in the last retry sweep",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware samples every request into RequestsTotal and
// RequestDuration, labelled by method, top-level resource and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		m.RecordRequest(r.Method, resourceLabel(r.URL.Path), ww.Status(), time.Since(start).Seconds())
	})
}

// resourceLabel keeps the label space bounded: only the first path
// segment, never resource ids.
func resourceLabel(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

// RecordRequest records one completed API request.
func (m *Metrics) RecordRequest(method, resource string, status int, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, resource, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, resource).Observe(seconds)
}

// RecordRateLimitHit records one throttled request.
func (m *Metrics) RecordRateLimitHit(tenant string) {
	m.RateLimitHits.WithLabelValues(tenant).Inc()
}

// RecordAuthFailure records one rejected API key.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordDelivery records one webhook delivery attempt outcome.
func (m *Metrics) RecordDelivery(outcome string) {
	m.WebhookDeliveries.WithLabelValues(outcome).Inc()
}

// RecordRetrySweep records one retry worker sweep.
func (m *Metrics) RecordRetrySweep(claimed int) {
	m.PendingRetries.Set(float64(claimed))
	m.WebhookRetries.Add(float64(claimed))
}
