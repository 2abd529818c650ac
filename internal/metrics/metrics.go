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
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmflow",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dbmflow",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	TicketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmflow",
		Name:      "tickets_total",
		Help:      "Tickets created by ticket type and terminal status.",
	}, []string{"ticket_type", "status"})

	FlowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dbmflow",
		Name:      "flow_duration_seconds",
		Help:      "Per-flow duration from start to terminal status.",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
	}, []string{"flow_type"})

	ActivityExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmflow",
		Name:      "activity_executions_total",
		Help:      "Pipeline activity executions by component code and outcome.",
	}, []string{"component", "outcome"})

	ReconcilerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmflow",
		Name:      "reconciler_runs_total",
		Help:      "Reconciler task runs by task name and outcome (ok, error, dropped).",
	}, []string{"task", "outcome"})

	ReverseReportEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmflow",
		Name:      "reverse_report_events_total",
		Help:      "Reverse-report events by topic and outcome.",
	}, []string{"topic", "outcome"})

	SignalDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmflow",
		Name:      "signal_dispatch_total",
		Help:      "Engine signal dispatches by ticket type and outcome.",
	}, []string{"ticket_type", "outcome"})
)

// Handler returns an http.Handler that serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an http.Handler to record request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath buckets URL paths to avoid high cardinality.
// It keeps the first two path segments and replaces the rest with a placeholder.
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	switch {
	case p == "/healthz" || p == "/readyz" || p == "/metrics":
		return p
	}
	segments := 0
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			segments++
			if segments >= 2 {
				return p[:i]
			}
		}
	}
	return p
}
