// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters. A nil *Metrics is valid and
// records nothing, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	CallsCreated      *prometheus.CounterVec
	WebhooksReceived  *prometheus.CounterVec
	VerdictsCommitted *prometheus.CounterVec
	Retries           prometheus.Counter
	Fallbacks         *prometheus.CounterVec
	AudioBatches      prometheus.Counter
	ClassifierLatency prometheus.Histogram
}

// New creates and registers the metric set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CallsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amd_calls_created_total",
			Help: "Outbound calls created, by strategy.",
		}, []string{"strategy"}),
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amd_webhooks_received_total",
			Help: "Inbound webhook deliveries, by source.",
		}, []string{"source"}),
		VerdictsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amd_verdicts_committed_total",
			Help: "Committed detection verdicts, by verdict and strategy.",
		}, []string{"verdict", "strategy"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "amd_detection_retries_total",
			Help: "Low-confidence detection attempts deferred for retry.",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amd_fallbacks_total",
			Help: "Verdicts committed by the timeout/fallback policy, by reason.",
		}, []string{"reason"}),
		AudioBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "amd_audio_batches_total",
			Help: "Audio batches handed to a classifier.",
		}),
		ClassifierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "amd_classifier_latency_seconds",
			Help:    "External classifier round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.CallsCreated,
		m.WebhooksReceived,
		m.VerdictsCommitted,
		m.Retries,
		m.Fallbacks,
		m.AudioBatches,
		m.ClassifierLatency,
	)
	return m
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Safe accessors for the nil receiver case.

func (m *Metrics) IncCallCreated(strategy string) {
	if m != nil {
		m.CallsCreated.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) IncWebhook(source string) {
	if m != nil {
		m.WebhooksReceived.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IncVerdict(verdict, strategy string) {
	if m != nil {
		m.VerdictsCommitted.WithLabelValues(verdict, strategy).Inc()
	}
}

func (m *Metrics) IncRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) IncFallback(reason string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncAudioBatch() {
	if m != nil {
		m.AudioBatches.Inc()
	}
}

func (m *Metrics) ObserveClassifierLatency(seconds float64) {
	if m != nil {
		m.ClassifierLatency.Observe(seconds)
	}
}
