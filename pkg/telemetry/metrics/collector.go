// Package metrics registers and records the Prometheus metrics exposed
// by the governor.
//
// All metrics live in an isolated registry owned by the Collector so
// tests can create collectors freely without colliding on the default
// registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the metric registry and every instrument recorded by
// the admission and reporting paths.
type Collector struct {
	registry *prometheus.Registry

	// Admission decisions by outcome.
	admissionsTotal *prometheus.CounterVec

	// Tokens actually debited from the ledger.
	tokensGrantedTotal *prometheus.CounterVec

	// Admission check latency.
	checkDuration *prometheus.HistogramVec

	// Current month usage as a fraction of the enforced cap.
	usageRatio *prometheus.GaugeVec

	// Requests currently holding a concurrency slot.
	inFlight *prometheus.GaugeVec

	// Whether the emergency throttle is engaged (0 or 1).
	emergencyActive *prometheus.GaugeVec

	// Fallback requests by final provider.
	fallbackTotal *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		admissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saturn",
				Name:      "admissions_total",
				Help:      "Admission decisions by provider, agent, and reason",
			},
			[]string{"provider", "agent", "reason"},
		),

		tokensGrantedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saturn",
				Name:      "tokens_granted_total",
				Help:      "Tokens debited from the ledger",
			},
			[]string{"provider", "agent"},
		),

		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "saturn",
				Name:      "admission_check_duration_seconds",
				Help:      "Latency of admission checks",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 2.0},
			},
			[]string{"provider"},
		),

		usageRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "saturn",
				Name:      "usage_ratio",
				Help:      "Agent month usage as a fraction of the enforced cap",
			},
			[]string{"provider", "agent"},
		),

		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "saturn",
				Name:      "requests_in_flight",
				Help:      "Requests currently holding a concurrency slot",
			},
			[]string{"provider"},
		),

		emergencyActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "saturn",
				Name:      "emergency_throttle_active",
				Help:      "1 while the emergency throttle is engaged",
			},
			[]string{"provider"},
		),

		fallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saturn",
				Name:      "fallback_requests_total",
				Help:      "Fallback outcomes by final provider ('' when denied everywhere)",
			},
			[]string{"provider"},
		),
	}

	c.registry.MustRegister(
		c.admissionsTotal,
		c.tokensGrantedTotal,
		c.checkDuration,
		c.usageRatio,
		c.inFlight,
		c.emergencyActive,
		c.fallbackTotal,
	)

	return c
}

// Registry exposes the underlying registry for the scrape handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordAdmission records one admission decision.
func (c *Collector) RecordAdmission(provider, agent, reason string, duration time.Duration) {
	c.admissionsTotal.WithLabelValues(provider, agent, reason).Inc()
	c.checkDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordGrant records tokens debited by a granted request.
func (c *Collector) RecordGrant(provider, agent string, tokens int64) {
	c.tokensGrantedTotal.WithLabelValues(provider, agent).Add(float64(tokens))
}

// SetUsageRatio updates the usage gauge for one agent.
func (c *Collector) SetUsageRatio(provider, agent string, ratio float64) {
	c.usageRatio.WithLabelValues(provider, agent).Set(ratio)
}

// SetInFlight updates the in-flight gauge for one provider.
func (c *Collector) SetInFlight(provider string, n int) {
	c.inFlight.WithLabelValues(provider).Set(float64(n))
}

// SetEmergencyActive updates the emergency throttle gauge.
func (c *Collector) SetEmergencyActive(provider string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	c.emergencyActive.WithLabelValues(provider).Set(v)
}

// RecordFallback records the final provider that served a fallback
// request, or the empty string when every provider denied it.
func (c *Collector) RecordFallback(provider string) {
	c.fallbackTotal.WithLabelValues(provider).Inc()
}
