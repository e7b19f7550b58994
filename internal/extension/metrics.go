// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Activation outcomes used as metric labels.
const (
	OutcomeEnabled      = "enabled"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
	OutcomeInvalid      = "invalid"
	OutcomeOK           = "ok"
	OutcomeNotAvailable = "not_available"
)

// Metrics holds the extension host's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	Activations *prometheus.CounterVec
	Enabled     prometheus.Gauge
	Invocations *prometheus.CounterVec
}

// NewMetrics creates and registers the extension metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_extension_activations_total",
				Help: "Extension activation attempts by outcome",
			},
			[]string{"outcome"},
		),
		Enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shelf_extensions_enabled",
			Help: "Number of enabled extensions",
		}),
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_extension_invocations_total",
				Help: "Cross-extension invocations by target and outcome",
			},
			[]string{"target", "outcome"},
		),
	}

	reg.MustRegister(m.Activations)
	reg.MustRegister(m.Enabled)
	reg.MustRegister(m.Invocations)

	return m
}

func (m *Metrics) activation(outcome string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(outcome).Inc()
	if outcome == OutcomeEnabled {
		m.Enabled.Inc()
	}
}

func (m *Metrics) invocation(target, outcome string) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(Key(target), outcome).Inc()
}
