package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
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

	tokenEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_events_total",
			Help: "Token issuance and verification outcomes.",
		},
		[]string{"kind", "outcome"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Permission, role and isolation decisions.",
		},
		[]string{"check", "outcome"},
	)

	otpEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_events_total",
			Help: "OTP challenge lifecycle events.",
		},
		[]string{"event"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by a rate limiter.",
		},
		[]string{"scope"},
	)

	auditSinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_sink_failures_total",
			Help: "Audit events a sink failed to accept.",
		},
		[]string{"sink"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Errors returned by revocation, rate-limit and OTP stores.",
		},
		[]string{"store", "op"},
	)

	initOnce sync.Once
)

// Init registers all collectors in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokenEvents, authzDecisions, otpEvents, rateLimitRejections,
			auditSinkFailures, storeErrors,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenEvent counts a token issuance or verification outcome.
func TokenEvent(kind, outcome string) {
	tokenEvents.WithLabelValues(kind, outcome).Inc()
}

// AuthzDecision counts a guard decision.
func AuthzDecision(check string, allowed bool) {
	outcome := "granted"
	if !allowed {
		outcome = "denied"
	}
	authzDecisions.WithLabelValues(check, outcome).Inc()
}

// OTPEvent counts an OTP lifecycle event.
func OTPEvent(event string) {
	otpEvents.WithLabelValues(event).Inc()
}

// RateLimited counts a rejected request for the given limiter scope.
func RateLimited(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// AuditSinkFailed counts an audit event dropped by a sink.
func AuditSinkFailed(sink string) {
	auditSinkFailures.WithLabelValues(sink).Inc()
}

// StoreError counts a failed store operation.
func StoreError(store, op string) {
	storeErrors.WithLabelValues(store, op).Inc()
}

// Instrument measures rate, latency and in-flight requests.
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

// idCollections name path segments whose next segment is an identifier.
var idCollections = map[string]struct{}{
	"clinics":  {},
	"doctors":  {},
	"patients": {},
}

// CanonicalPath collapses identifier segments so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	segments := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if _, ok := idCollections[segments[i-1]]; !ok {
			continue
		}
		segments[i] = ":id"
	}
	return "/" + strings.Join(segments, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
