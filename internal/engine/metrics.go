package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Package outcome labels reported by the processor.
const (
	packageOutcomeAcked        = "acked"
	packageOutcomeDecodeFailed = "decode_failed"
	packageOutcomeNacked       = "nacked"
)

// ProcessorMetrics exposes the processor's Prometheus instruments. A nil
// *ProcessorMetrics is valid and records nothing.
type ProcessorMetrics struct {
	packages        *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

// NewProcessorMetrics registers the processor instruments on the supplied
// registerer, labelled with the entry point name.
func NewProcessorMetrics(reg prometheus.Registerer, entryPointName string) *ProcessorMetrics {
	constLabels := prometheus.Labels{"entry_point": entryPointName}

	m := &ProcessorMetrics{
		packages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "servicebus",
			Name:        "packages_total",
			Help:        "Transport packages handled, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "servicebus",
			Name:        "handler_failures_total",
			Help:        "Handler executions that surfaced an error.",
			ConstLabels: constLabels,
		}, []string{"message_type"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "servicebus",
			Name:        "handler_duration_seconds",
			Help:        "Handler execution duration.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"message_type"}),
	}

	reg.MustRegister(m.packages, m.handlerFailures, m.handlerDuration)
	return m
}

func (m *ProcessorMetrics) observePackage(outcome string) {
	if m == nil {
		return
	}
	m.packages.WithLabelValues(outcome).Inc()
}

func (m *ProcessorMetrics) observeHandler(messageType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(messageType).Observe(d.Seconds())
	if err != nil {
		m.handlerFailures.WithLabelValues(messageType).Inc()
	}
}
