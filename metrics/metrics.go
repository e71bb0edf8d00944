package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus counters for the relay pipeline. It is
// constructed once at service setup and passed down explicitly; a nil
// receiver disables collection, which keeps tests free of registries.
type Metrics struct {
	registry           *prometheus.Registry
	eventsObserved     prometheus.Counter
	eventsRelayed      prometheus.Counter
	validationFailures prometheus.Counter
	submissionErrors   prometheus.Counter
	reconnects         prometheus.Counter
}

// New creates and registers the pipeline counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_events_observed_total",
			Help: "Total number of lock events observed on the source chain",
		}),
		eventsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_events_relayed_total",
			Help: "Total number of mint transactions submitted to the destination chain",
		}),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_validation_failures_total",
			Help: "Total number of events rejected by the validation pipeline",
		}),
		submissionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_submission_errors_total",
			Help: "Total number of failed destination submissions",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_reconnects_total",
			Help: "Total number of source reconnection attempts",
		}),
	}

	m.registry.MustRegister(
		m.eventsObserved,
		m.eventsRelayed,
		m.validationFailures,
		m.submissionErrors,
		m.reconnects,
	)

	return m
}

// Handler returns the HTTP handler exposing the counters.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventObserved increments the observed-events counter.
func (m *Metrics) EventObserved() {
	if m != nil {
		m.eventsObserved.Inc()
	}
}

// EventRelayed increments the relayed-events counter.
func (m *Metrics) EventRelayed() {
	if m != nil {
		m.eventsRelayed.Inc()
	}
}

// ValidationFailure increments the rejected-events counter.
func (m *Metrics) ValidationFailure() {
	if m != nil {
		m.validationFailures.Inc()
	}
}

// SubmissionError increments the failed-submissions counter.
func (m *Metrics) SubmissionError() {
	if m != nil {
		m.submissionErrors.Inc()
	}
}

// Reconnect increments the reconnection-attempts counter.
func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}
