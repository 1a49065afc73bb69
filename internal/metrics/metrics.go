// Package metrics provides Prometheus instrumentation for the tracker.
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
	// LotOpsTotal counts ledger operations by kind and outcome.
	LotOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_lot_ops_total",
		Help: "Total ledger operations",
	}, []string{"op", "outcome"})

	// ValuationsTotal counts valuation computations by outcome.
	ValuationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_valuations_total",
		Help: "Total valuation computations",
	}, []string{"outcome"})

	// UpstreamRequestsTotal counts price-API calls by function and result.
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_upstream_requests_total",
		Help: "Total upstream price API requests",
	}, []string{"function", "result"})

	// UpstreamLatency tracks price-API latency by function.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invtrack_upstream_latency_seconds",
		Help:    "Upstream price API latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"function"})

	// ReportsTotal counts portfolio report builds.
	ReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invtrack_reports_total",
		Help: "Total portfolio reports built",
	})

	// EmailsTotal counts notifier emails by outcome.
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_emails_total",
		Help: "Total notification emails attempted",
	}, []string{"outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invtrack_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
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

		// Use the raw path for the label; route cardinality is small here.
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
