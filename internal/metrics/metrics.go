package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics of the relay
type Metrics struct {
	// Send outcomes
	EmailsTotal *prometheus.CounterVec

	// Provider attempts
	ProviderAttemptsTotal          *prometheus.CounterVec
	ProviderAttemptDurationSeconds *prometheus.HistogramVec
	ProviderBackoffsTotal          *prometheus.CounterVec
	ProviderLimited                *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Authentication and quotas
	AuthFailuresTotal      *prometheus.CounterVec
	RateLimitExceededTotal *prometheus.CounterVec
	APIKeysActive          prometheus.Gauge

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_emails_total",
				Help: "Total number of send requests by logged provider and status",
			},
			[]string{"provider", "status"},
		),

		ProviderAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_provider_attempts_total",
				Help: "Total number of provider attempts by result",
			},
			[]string{"provider", "result"},
		),
		ProviderAttemptDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailrelay_provider_attempt_duration_seconds",
				Help:    "Provider attempt duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		ProviderBackoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_provider_backoffs_total",
				Help: "Total number of times a provider entered backoff",
			},
			[]string{"provider"},
		),
		ProviderLimited: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailrelay_provider_limited",
				Help: "Whether a provider is currently in backoff (1) or not (0)",
			},
			[]string{"provider"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailrelay_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_auth_failures_total",
				Help: "Total number of rejected credentials",
			},
			[]string{"kind"},
		),
		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_ratelimit_exceeded_total",
				Help: "Total number of quota exceeded events",
			},
			[]string{"level"},
		),
		APIKeysActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrelay_api_keys_active",
				Help: "Number of active API keys",
			},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrelay_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrelay_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrelay_storage_used_bytes",
				Help: "Database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EmailsTotal,
		m.ProviderAttemptsTotal,
		m.ProviderAttemptDurationSeconds,
		m.ProviderBackoffsTotal,
		m.ProviderLimited,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.AuthFailuresTotal,
		m.RateLimitExceededTotal,
		m.APIKeysActive,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEmails counts a finished send request
func IncEmails(provider, status string) {
	if m := Global(); m != nil {
		m.EmailsTotal.WithLabelValues(provider, status).Inc()
	}
}

// ObserveProviderAttempt records one provider attempt and its duration.
// Skipped attempts pass a zero duration and are not observed in the histogram.
func ObserveProviderAttempt(provider, result string, seconds float64) {
	m := Global()
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, result).Inc()
	if result != "skipped" {
		m.ProviderAttemptDurationSeconds.WithLabelValues(provider).Observe(seconds)
	}
}

// IncProviderBackoff counts a provider entering backoff
func IncProviderBackoff(provider string) {
	if m := Global(); m != nil {
		m.ProviderBackoffsTotal.WithLabelValues(provider).Inc()
	}
}

// IncAuthFailures counts rejected API keys or admin credentials
func IncAuthFailures(kind string) {
	if m := Global(); m != nil {
		m.AuthFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	if m := Global(); m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
