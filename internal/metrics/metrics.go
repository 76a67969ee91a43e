// Package metrics provides Prometheus instrumentation for the journal engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PublishesTotal counts envelope publishes by event type and outcome.
	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_publishes_total",
		Help: "Total trade-event envelopes published",
	}, []string{"event_type", "status"})

	// PublishRetries counts individual failed publish attempts.
	PublishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_publish_retries_total",
		Help: "Failed publish attempts (including those that later succeeded)",
	})

	// AppliesTotal counts envelope applications by event type and outcome.
	AppliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_applies_total",
		Help: "Total trade-event envelopes applied to the store",
	}, []string{"event_type", "status"})

	// ApplyRetries counts individual failed apply attempts.
	ApplyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_apply_retries_total",
		Help: "Failed apply attempts (including those that later succeeded)",
	})

	// MalformedEnvelopes counts envelopes the consumer skipped at decode.
	MalformedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_malformed_envelopes_total",
		Help: "Envelopes rejected by the codec and skipped by the consumer",
	})

	// ApplyLatency tracks apply duration per event type.
	ApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "journal_apply_latency_seconds",
		Help:    "Envelope apply latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "journal_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "journal_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
