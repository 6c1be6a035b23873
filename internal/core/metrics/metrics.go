// Package metrics provides Prometheus collectors for the flow engine.
//
// All recording methods are nil-safe: components accept a *Metrics and work
// unchanged when none is configured (tests, the one-shot resolve command).
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowkeeper"

// Metrics exposes collectors for resolution, API step and variable activity.
type Metrics struct {
	resolutions     *prometheus.CounterVec
	auditFailures   prometheus.Counter
	apiAttempts     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	lookupFailures  *prometheus.CounterVec
	sandboxContacts prometheus.Gauge
}

// New constructs Metrics and registers every collector with reg.
// A collector that is already registered with an identical descriptor is
// reused so several engines can share one registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "resolutions_total",
			Help:      "Rule resolutions by mode and outcome.",
		}, []string{"mode", "outcome"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "audit_failures_total",
			Help:      "Resolutions aborted because the audit log write failed.",
		}),
		apiAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apistep",
			Name:      "attempts_total",
			Help:      "Outbound API step attempts by outcome.",
		}, []string{"outcome"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apistep",
			Name:      "duration_seconds",
			Help:      "API step duration from first attempt to final result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		lookupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "variables",
			Name:      "lookup_failures_total",
			Help:      "Contact-variable lookups that failed and degraded to an empty map.",
		}, []string{"store"}),
		sandboxContacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "variables",
			Name:      "sandbox_contacts",
			Help:      "Sandbox contacts currently held in memory.",
		}),
	}

	if err := register(reg, &m.resolutions); err != nil {
		return nil, err
	}
	if err := register(reg, &m.auditFailures); err != nil {
		return nil, err
	}
	if err := register(reg, &m.apiAttempts); err != nil {
		return nil, err
	}
	if err := register(reg, &m.apiDuration); err != nil {
		return nil, err
	}
	if err := register(reg, &m.lookupFailures); err != nil {
		return nil, err
	}
	if err := register(reg, &m.sandboxContacts); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds *c to reg, swapping in the existing collector on conflict.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(C)
			if !ok {
				return fmt.Errorf("metrics: conflicting collector type: %w", err)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("metrics: register: %w", err)
	}
	return nil
}

// ObserveResolution counts one resolution.
func (m *Metrics) ObserveResolution(mode, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(mode, outcome).Inc()
}

// IncAuditFailure counts a resolution aborted by the audit log.
func (m *Metrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// ObserveAPIAttempt counts one HTTP attempt.
func (m *Metrics) ObserveAPIAttempt(outcome string) {
	if m == nil {
		return
	}
	m.apiAttempts.WithLabelValues(outcome).Inc()
}

// ObserveAPICall records the total duration of an API step.
func (m *Metrics) ObserveAPICall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncLookupFailure counts a swallowed contact-variable lookup failure.
func (m *Metrics) IncLookupFailure(store string) {
	if m == nil {
		return
	}
	m.lookupFailures.WithLabelValues(store).Inc()
}

// SetSandboxContacts reports the sandbox cache size.
func (m *Metrics) SetSandboxContacts(n int) {
	if m == nil {
		return
	}
	m.sandboxContacts.Set(float64(n))
}
