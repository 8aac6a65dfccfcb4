// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Buffered response sizes range from short completions to long streamed
// transcripts, so the buckets span 1 KiB to 16 MiB.
var sizeBuckets = prometheus.ExponentialBuckets(1024, 4, 8)

// Attempt outcome label values (bounded cardinality).
const (
	OutcomeSuccess        = "success"
	OutcomeMidStreamError = "mid_stream_error"
	OutcomeRateLimited    = "rate_limited"
	OutcomeRejected       = "rejected"
	OutcomeTransportFault = "transport_fault"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamAttempts  *prometheus.CounterVec
	UpstreamDuration  prometheus.Histogram
	UpstreamResponses *prometheus.CounterVec
	RetryWaitSeconds  prometheus.Counter
	ShieldedBytes     prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shield_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shield_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_proxy_upstream_attempts_total",
			Help: "Total upstream delivery attempts by outcome.",
		}, []string{"outcome"}),

		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shield_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_proxy_upstream_responses_total",
			Help: "Total upstream responses by status code.",
		}, []string{"status_code"}),

		RetryWaitSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shield_proxy_retry_wait_seconds_total",
			Help: "Total seconds spent sleeping between retry attempts.",
		}),

		ShieldedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shield_proxy_shielded_response_bytes",
			Help:    "Size of fully buffered upstream responses delivered to clients.",
			Buckets: sizeBuckets,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamAttempts,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RetryWaitSeconds,
		m.ShieldedBytes,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPaths lists the reserved routes that keep their own path label.
var knownPaths = map[string]bool{
	"/healthz":      true,
	"/proxy/status": true,
	"/metrics":      true,
}

// NormalizePath returns a bounded path label for Prometheus metrics.
// The proxy forwards POSTs on any path, so everything that is not a
// reserved route collapses into a single "proxy" label.
func NormalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "proxy"
}
