// Package metrics provides Prometheus metrics for the SSO engine.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sso_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Authentication metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_auth_attempts_total",
			Help: "Total number of key and password authentication attempts",
		},
		[]string{"kind", "status"}, // kind: "key", "login"; status: "success", "failure"
	)

	// Token metrics
	tokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_tokens_issued_total",
			Help: "Total number of session pairs issued",
		},
		[]string{"grant"}, // "login", "oauth2", "refresh"
	)

	tokenRevocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sso_token_revocations_total",
			Help: "Total number of session revocations",
		},
	)

	// OAuth2 delegation metrics
	oauth2FlowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_oauth2_flows_total",
			Help: "Total number of OAuth2 delegation flow steps",
		},
		[]string{"provider", "phase", "status"}, // phase: "start", "callback"
	)

	// Key lifecycle metrics
	keyRevocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sso_key_revocations_total",
			Help: "Total number of key revocations",
		},
	)

	// Rate limiting metrics
	rateLimitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"endpoint"},
	)
)

// RecordAuthAttempt records a key or password authentication attempt.
func RecordAuthAttempt(kind string, ok bool) {
	authAttemptsTotal.WithLabelValues(kind, statusLabel(ok)).Inc()
}

// RecordTokensIssued records a session pair being issued.
func RecordTokensIssued(grant string) {
	tokensIssuedTotal.WithLabelValues(grant).Inc()
}

// RecordTokenRevocation records a session revocation.
func RecordTokenRevocation() {
	tokenRevocationsTotal.Inc()
}

// RecordOauth2Flow records one delegation flow step.
func RecordOauth2Flow(provider, phase string, ok bool) {
	oauth2FlowsTotal.WithLabelValues(provider, phase, statusLabel(ok)).Inc()
}

// RecordKeyRevocation records a key revocation.
func RecordKeyRevocation() {
	keyRevocationsTotal.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event.
func RecordRateLimitExceeded(endpoint string) {
	rateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
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

// normalizePath normalizes the path for metrics to avoid high cardinality.
func normalizePath(path string) string {
	knownPaths := []string{
		"/healthz",
		"/readyz",
		"/metrics",
		"/login",
		"/key/verify",
		"/key/create",
		"/key/update",
		"/key/revoke",
		"/token/verify",
		"/token/refresh",
		"/token/revoke",
		"/csrf/generate",
		"/oauth2/github",
		"/oauth2/github/callback",
		"/oauth2/microsoft",
		"/oauth2/microsoft/callback",
	}

	for _, known := range knownPaths {
		if path == known {
			return path
		}
	}

	return "/other"
}
