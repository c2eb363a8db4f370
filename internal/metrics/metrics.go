package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is implemented by Metrics and NoopMetrics.
type Recorder interface {
	RecordPairingCreated(success bool)
	RecordPairingPoll(result string)
	RecordCredentialValidation(result string)
	RecordProviderCall(endpoint, status string, duration time.Duration)
	RecordProbe(result string, duration time.Duration)
	SetPairingsInFlight(count int)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Pairing flow
	PairingsCreatedTotal *prometheus.CounterVec
	PairingPollsTotal    *prometheus.CounterVec
	PairingsInFlight     prometheus.Gauge

	// Credential
	CredentialValidationsTotal *prometheus.CounterVec

	// Identity provider
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Connection probes
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration prometheus.Histogram

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Init returns Prometheus metrics when enabled, otherwise a no-op recorder.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}
	return New(prometheus.NewRegistry())
}

// New registers every metric on reg. Each call needs its own registry.
func New(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PairingsCreatedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_pairings_created_total",
				Help: "Total number of PIN pairings requested from the provider",
			},
			[]string{"result"}, // success, error
		),
		PairingPollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_pairing_polls_total",
				Help: "Total number of pairing status polls",
			},
			[]string{"result"}, // pending, authorized, expired, error
		),
		PairingsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "plex_pairings_in_flight",
				Help: "Pairings currently held in the cache",
			},
		),
		CredentialValidationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_credential_validations_total",
				Help: "Total number of stored credential validations",
			},
			[]string{"result"}, // valid, no_token, or an error code
		),
		ProviderRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_provider_requests_total",
				Help: "Total number of identity provider calls",
			},
			[]string{"endpoint", "status"},
		),
		ProviderRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plex_provider_request_duration_seconds",
				Help:    "Identity provider call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ProbesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_connection_probes_total",
				Help: "Total number of server connection probes",
			},
			[]string{"result"}, // ok, timeout, tls, refused, status, invalid_uri, error
		),
		ProbeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plex_connection_probe_duration_seconds",
				Help:    "Server connection probe latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPairingCreated(success bool) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.PairingsCreatedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPairingPoll(result string) {
	m.PairingPollsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCredentialValidation(result string) {
	m.CredentialValidationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordProviderCall(endpoint, status string, duration time.Duration) {
	m.ProviderRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordProbe(result string, duration time.Duration) {
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetPairingsInFlight(count int) {
	m.PairingsInFlight.Set(float64(count))
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
