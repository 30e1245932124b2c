// Package metrics exposes payment gate activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/becomeliminal/x402-gate"
)

const namespace = "x402"

// Sink records gate metrics in its own registry. Create one per process.
type Sink struct {
	registry *prometheus.Registry

	requestsTotal       prometheus.Counter
	outcomesTotal       *prometheus.CounterVec
	facilitatorDuration *prometheus.HistogramVec
	facilitatorErrors   *prometheus.CounterVec
	storeErrors         *prometheus.CounterVec
	paymentAmount       prometheus.Histogram
}

var _ x402.Recorder = (*Sink)(nil)

// New creates a Sink. version is reported by the x402_gate_info gauge.
func New(version string) *Sink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Sink{
		registry: reg,
		requestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests evaluated by the payment gate",
		}),
		outcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_outcomes_total",
			Help:      "Gate decisions by outcome (challenge, accepted, rejected:<reason>, facilitator_error, settlement_failed)",
		}, []string{"outcome"}),
		facilitatorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "facilitator_duration_seconds",
			Help:      "Facilitator call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"}),
		facilitatorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facilitator_errors_total",
			Help:      "Facilitator calls that failed, by operation and fallback policy",
		}, []string{"operation", "fallback"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Replay cache and price store failures",
		}, []string{"store", "operation"}),
		paymentAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_amount",
			Help:      "Accepted payment amounts in asset units",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 100},
		}),
	}

	// Keeps the exposition non-empty before the first request.
	factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "gate_info",
		Help:        "Payment gate build information",
		ConstLabels: prometheus.Labels{"version": version},
	}).Set(1)

	return s
}

// RecordRequest counts an evaluated request.
func (s *Sink) RecordRequest() {
	s.requestsTotal.Inc()
}

// RecordOutcome counts a gate decision.
func (s *Sink) RecordOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFacilitatorCall records the latency of a verify or settle call.
func (s *Sink) ObserveFacilitatorCall(operation string, d time.Duration, err error) {
	s.facilitatorDuration.WithLabelValues(operation, resultLabel(err)).Observe(d.Seconds())
}

// RecordFacilitatorError counts a failed facilitator call.
func (s *Sink) RecordFacilitatorError(operation string, policy x402.FallbackPolicy) {
	s.facilitatorErrors.WithLabelValues(operation, policy.String()).Inc()
}

// RecordStoreError counts a failed store operation.
func (s *Sink) RecordStoreError(store, operation string) {
	s.storeErrors.WithLabelValues(store, operation).Inc()
}

// ObservePaymentAmount records an accepted payment.
func (s *Sink) ObservePaymentAmount(amount float64) {
	s.paymentAmount.Observe(amount)
}

// Registry returns the underlying registry, e.g. to add process collectors.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus text exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
