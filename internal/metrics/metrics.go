// Package metrics exposes Prometheus collectors for ticket cycles, credential
// cache lookups and registry lookups.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ticket cycles and registry lookups.
type Metrics struct {
	// Ticket cycles by outcome: success or a lowercased error code
	TicketCycles *prometheus.CounterVec

	TicketCycleLatency prometheus.Histogram

	// Credential requests by result: hit, store, miss
	CredentialLookups *prometheus.CounterVec

	// Registry lookups by outcome: found, not_found, invalid or an error code
	RegistryLookups *prometheus.CounterVec

	RegistryLatency prometheus.Histogram
}

// New registers all metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		TicketCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "padron_ticket_cycles_total",
			Help: "Ticket request cycles against the authority by outcome",
		}, []string{"outcome"}),

		TicketCycleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "padron_ticket_cycle_duration_seconds",
			Help:    "Duration of sign and loginCms exchange",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		CredentialLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "padron_credential_lookups_total",
			Help: "Credential cache requests by result",
		}, []string{"result"}),

		RegistryLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "padron_registry_lookups_total",
			Help: "Registry lookups by outcome",
		}, []string{"outcome"}),

		RegistryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "padron_registry_lookup_duration_seconds",
			Help:    "Duration of registry lookups including credential acquisition",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// ObserveTicketCycle records one ticket cycle.
func (m *Metrics) ObserveTicketCycle(outcome string, d time.Duration) {
	if m != nil {
		m.TicketCycles.WithLabelValues(outcome).Inc()
		m.TicketCycleLatency.Observe(d.Seconds())
	}
}

// ObserveCredentialLookup records how a credential request was served.
func (m *Metrics) ObserveCredentialLookup(result string) {
	if m != nil {
		m.CredentialLookups.WithLabelValues(result).Inc()
	}
}

// ObserveRegistryLookup records one registry lookup.
func (m *Metrics) ObserveRegistryLookup(outcome string, d time.Duration) {
	if m != nil {
		m.RegistryLookups.WithLabelValues(outcome).Inc()
		m.RegistryLatency.Observe(d.Seconds())
	}
}
