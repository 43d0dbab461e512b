package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Token verifications by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	rbacDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_decisions_total",
			Help: "RBAC validation decisions by outcome.",
		},
		[]string{"outcome"},
	)

	snapshotRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_snapshot_refreshes_total",
			Help: "Rule cache rebuilds by cache and result.",
		},
		[]string{"cache", "result"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		loginsTotal, tokenVerifications, rbacDecisions, snapshotRefreshes,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady reflects readiness into the service_ready gauge.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveLogin counts a login attempt. flow is "basic" or "external".
func ObserveLogin(flow, outcome string) {
	loginsTotal.WithLabelValues(flow, outcome).Inc()
}

// ObserveTokenVerification counts a token verification.
func ObserveTokenVerification(kind, outcome string) {
	tokenVerifications.WithLabelValues(kind, outcome).Inc()
}

// ObserveRBACDecision counts one authorization decision.
func ObserveRBACDecision(outcome string) {
	rbacDecisions.WithLabelValues(outcome).Inc()
}

// ObserveSnapshotRefresh counts one rule-cache rebuild.
func ObserveSnapshotRefresh(cache, result string) {
	snapshotRefreshes.WithLabelValues(cache, result).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for metrics and logging.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
