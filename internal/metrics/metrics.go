// ABOUTME: Prometheus metrics for HTTP traffic and authentication outcomes
// ABOUTME: Registers collectors in the default registry; main calls Init exactly once

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "walletgate_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletgate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	challengesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletgate_challenges_issued_total",
			Help: "Challenges issued, by chain family.",
		},
		[]string{"family"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletgate_verifications_total",
			Help: "Signature verification attempts, by chain family and result.",
		},
		[]string{"family", "result"},
	)

	contextSwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletgate_context_switches_total",
			Help: "Tenant context operations, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "walletgate_ready",
		Help: "Whether the service is ready to accept traffic.",
	})
)

// Init registers all collectors in the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		challengesIssued,
		verificationsTotal,
		contextSwitchesTotal,
		serviceReady,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ChallengeIssued records a challenge handed to a wallet.
func ChallengeIssued(family string) {
	challengesIssued.WithLabelValues(family).Inc()
}

// Verification records a signature verification attempt.
func Verification(family string, ok bool) {
	verificationsTotal.WithLabelValues(family, result(ok)).Inc()
}

// ContextSwitch records a tenant context operation (bootstrap, organization,
// workspace).
func ContextSwitch(kind string, ok bool) {
	contextSwitchesTotal.WithLabelValues(kind, result(ok)).Inc()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Instrument wraps a handler to record request counts, latency, and in-flight
// gauge. Paths are canonicalized so ids do not blow up label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses id-bearing path segments to keep the path label
// bounded. Chain families are a fixed set and stay as-is.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) == 2 && segments[0] == "organizations" {
		return "/organizations/:id"
	}
	return path
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
